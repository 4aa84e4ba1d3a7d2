package domain

import "time"

// Transaction represents a blockchain transaction.
// A transaction with a nil BlockHash is unplaced and may be collated into a later block.
type Transaction struct {
	Hash        string    `json:"hash"                   db:"hash"`
	BlockHash   *string   `json:"block_hash,omitempty"   db:"block_hash"`
	BlockNumber *int64    `json:"block_number,omitempty" db:"block_number"`
	Index       *int      `json:"index,omitempty"        db:"index"`
	FromAddress string    `json:"from_address"           db:"from_address"`
	ToAddress   *string   `json:"to_address,omitempty"   db:"to_address"`
	InsertedAt  time.Time `json:"-"                      db:"inserted_at"`
	UpdatedAt   time.Time `json:"-"                      db:"updated_at"`
}

// Placed reports whether the transaction is attached to a block.
func (t Transaction) Placed() bool {
	return t.BlockHash != nil
}

// SameContent reports whether two rows for the same hash carry identical fields.
func (t Transaction) SameContent(other Transaction) bool {
	return t.Hash == other.Hash &&
		equalPtr(t.BlockHash, other.BlockHash) &&
		equalPtr(t.BlockNumber, other.BlockNumber) &&
		equalPtr(t.Index, other.Index) &&
		t.FromAddress == other.FromAddress &&
		equalPtr(t.ToAddress, other.ToAddress)
}

// TransactionFork records that a transaction sat at Index in the non-canonical block UncleHash.
// Unique on (UncleHash, Index).
type TransactionFork struct {
	UncleHash       string    `json:"uncle_hash"       db:"uncle_hash"`
	Index           int       `json:"index"            db:"index"`
	TransactionHash string    `json:"transaction_hash" db:"transaction_hash"`
	InsertedAt      time.Time `json:"-"                db:"inserted_at"`
	UpdatedAt       time.Time `json:"-"                db:"updated_at"`
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

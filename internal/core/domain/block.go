package domain

import "time"

// Block represents a blockchain block.
// At most one block per Number has Consensus set.
type Block struct {
	Hash       string    `json:"hash"        db:"hash"`
	Number     int64     `json:"number"      db:"number"`
	ParentHash string    `json:"parent_hash" db:"parent_hash"`
	MinerHash  string    `json:"miner_hash"  db:"miner_hash"`
	Consensus  bool      `json:"consensus"   db:"consensus"`
	Timestamp  time.Time `json:"timestamp"   db:"timestamp"`
	InsertedAt time.Time `json:"-"           db:"inserted_at"`
	UpdatedAt  time.Time `json:"-"           db:"updated_at"`
}

// SameContent reports whether two rows for the same hash carry identical fields,
// ignoring bookkeeping timestamps.
func (b Block) SameContent(other Block) bool {
	return b.Hash == other.Hash &&
		b.Number == other.Number &&
		b.ParentHash == other.ParentHash &&
		b.MinerHash == other.MinerHash &&
		b.Consensus == other.Consensus &&
		b.Timestamp.Equal(other.Timestamp)
}

// BlockChange is a block row written by an upsert.
// Inserted is false when an existing row was updated.
type BlockChange struct {
	Block
	Inserted bool `db:"inserted"`
}

// LostConsensus records a block that was canonical at Number and was displaced.
type LostConsensus struct {
	Number int64  `db:"number"`
	Hash   string `db:"hash"`
}

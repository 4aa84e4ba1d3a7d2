package domain

import "time"

// MissingBlockRange is a closed interval of heights not yet durably linked into the canonical chain.
// Stored ranges never overlap or touch.
type MissingBlockRange struct {
	ID         int64     `json:"id"          db:"id"`
	FromNumber int64     `json:"from_number" db:"from_number"`
	ToNumber   int64     `json:"to_number"   db:"to_number"`
	InsertedAt time.Time `json:"-"           db:"inserted_at"`
	UpdatedAt  time.Time `json:"-"           db:"updated_at"`
}

// PendingBlockOperation marks a canonical block with outstanding follow-up work.
type PendingBlockOperation struct {
	BlockHash   string    `json:"block_hash"   db:"block_hash"`
	BlockNumber int64     `json:"block_number" db:"block_number"`
	InsertedAt  time.Time `json:"-"            db:"inserted_at"`
}

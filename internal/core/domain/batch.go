package domain

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jellydator/validation"
)

// ErrInvalidBatch is returned for batches rejected before any storage work starts.
var ErrInvalidBatch = errors.New("invalid batch")

var hashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)

// Batch is the unit of import. Every row in it is applied atomically.
type Batch struct {
	Blocks       []Block       `json:"blocks"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// Validate checks record structure and cross-record consistency.
func (b Batch) Validate() error {
	if err := validation.ValidateStruct(&b,
		validation.Field(&b.Blocks, validation.Required),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}

	for i := range b.Blocks {
		if err := b.Blocks[i].Validate(); err != nil {
			return fmt.Errorf("%w: block %d: %w", ErrInvalidBatch, i, err)
		}
	}
	for i := range b.Transactions {
		if err := b.Transactions[i].Validate(); err != nil {
			return fmt.Errorf("%w: transaction %d: %w", ErrInvalidBatch, i, err)
		}
	}

	// Last occurrence of a hash wins, so conflicts are checked on the deduplicated view.
	blocks := DedupBlocks(b.Blocks)
	canonical := make(map[int64]string, len(blocks))
	byHash := make(map[string]Block, len(blocks))
	for _, block := range blocks {
		byHash[block.Hash] = block
		if !block.Consensus {
			continue
		}
		if other, ok := canonical[block.Number]; ok && other != block.Hash {
			return fmt.Errorf("%w: blocks %s and %s both claim consensus at %d",
				ErrInvalidBatch, other, block.Hash, block.Number)
		}
		canonical[block.Number] = block.Hash
	}

	for _, tx := range DedupTransactions(b.Transactions) {
		if tx.BlockHash == nil {
			continue
		}
		if block, ok := byHash[*tx.BlockHash]; ok && block.Number != *tx.BlockNumber {
			return fmt.Errorf("%w: transaction %s placed at %d but block %s is at %d",
				ErrInvalidBatch, tx.Hash, *tx.BlockNumber, block.Hash, block.Number)
		}
	}
	return nil
}

// Validate checks a single block record.
func (b Block) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Hash, validation.Required, validation.Match(hashPattern)),
		validation.Field(&b.Number, validation.Min(int64(0))),
		validation.Field(&b.ParentHash,
			validation.When(b.Number > 0, validation.Required),
			validation.Match(hashPattern)),
		validation.Field(&b.MinerHash, validation.Match(hashPattern)),
		validation.Field(&b.Timestamp, validation.Required),
	)
}

// Validate checks a single transaction record. Placement fields are all set or all nil.
func (t Transaction) Validate() error {
	placed := t.BlockHash != nil
	return validation.ValidateStruct(&t,
		validation.Field(&t.Hash, validation.Required, validation.Match(hashPattern)),
		validation.Field(&t.FromAddress, validation.Required, validation.Match(hashPattern)),
		validation.Field(&t.BlockHash, validation.When(placed, validation.Match(hashPattern))),
		validation.Field(&t.BlockNumber,
			validation.When(placed, validation.NotNil, validation.Min(int64(0))).Else(validation.Nil)),
		validation.Field(&t.Index,
			validation.When(placed, validation.NotNil, validation.Min(0)).Else(validation.Nil)),
	)
}

// DedupBlocks keeps the last occurrence of every hash, in first-seen order.
func DedupBlocks(blocks []Block) []Block {
	return dedup(blocks, func(b Block) string { return b.Hash })
}

// DedupTransactions keeps the last occurrence of every hash, in first-seen order.
func DedupTransactions(txs []Transaction) []Transaction {
	return dedup(txs, func(t Transaction) string { return t.Hash })
}

func dedup[T any](items []T, key func(T) string) []T {
	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

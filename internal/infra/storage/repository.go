package storage

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
)

var (
	// ErrConstraint is returned when a write violates a unique, foreign-key or check constraint.
	ErrConstraint = errors.New("constraint violation")

	// ErrTransient is returned for failures that may succeed on retry
	// (serialization failure, deadlock, lock timeout, lost connection, deadline).
	ErrTransient = errors.New("transient storage failure")

	// ErrTxDone is returned when a completed transaction is used again.
	ErrTxDone = errors.New("transaction already completed")
)

// Store opens import transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one atomic unit of import work. Nothing written through it is visible
// to other transactions before Commit; Rollback discards everything.
type Tx interface {
	BlockRepository
	TransactionRepository
	BalanceRepository
	TokenRepository
	MissingRangeRepository
	PendingOperationRepository

	Commit() error
	Rollback() error
}

// BlockRepository handles block storage operations.
type BlockRepository interface {
	// LockHeights blocks until no other transaction holds any of the heights, then holds them
	// until this transaction ends. It must be called at most once per transaction.
	LockHeights(ctx context.Context, numbers []int64) error

	// CanonicalBlocksByNumbers returns the consensus blocks at the given heights,
	// locking their rows for the rest of the transaction.
	CanonicalBlocksByNumbers(ctx context.Context, numbers []int64) ([]domain.Block, error)

	// LoseConsensus flips consensus to false for the given hashes and returns the rows that changed.
	LoseConsensus(ctx context.Context, hashes []string, now time.Time) ([]domain.LostConsensus, error)

	// UpsertBlocks inserts or updates blocks by hash. Rows whose content is unchanged are
	// neither written nor returned.
	UpsertBlocks(ctx context.Context, blocks []domain.Block, now time.Time) ([]domain.BlockChange, error)

	// NearestCanonicalBelow returns the highest consensus block with number < n, or nil.
	NearestCanonicalBelow(ctx context.Context, n int64) (*domain.Block, error)

	// NearestCanonicalAbove returns the lowest consensus block with number > n, or nil.
	NearestCanonicalAbove(ctx context.Context, n int64) (*domain.Block, error)
}

// TransactionRepository handles transaction and fork storage operations.
type TransactionRepository interface {
	// TransactionsByBlockHashes returns every transaction attached to one of the blocks.
	TransactionsByBlockHashes(ctx context.Context, blockHashes []string) ([]domain.Transaction, error)

	// UnplaceTransactions clears block placement of the given transactions and returns the changed rows.
	UnplaceTransactions(ctx context.Context, hashes []string, now time.Time) ([]domain.Transaction, error)

	// UpsertTransactions inserts or updates transactions by hash. Unchanged rows are not returned.
	UpsertTransactions(ctx context.Context, txs []domain.Transaction, now time.Time) ([]domain.Transaction, error)

	// UpsertTransactionForks writes forks keyed by (uncle_hash, index). An existing row is
	// overwritten only when its transaction hash differs. Only written rows are returned.
	UpsertTransactionForks(ctx context.Context, forks []domain.TransactionFork, now time.Time) ([]domain.TransactionFork, error)
}

// BalanceRepository handles current and historical token balances.
type BalanceRepository interface {
	// DeleteCurrentTokenBalances deletes current balances at the given heights and returns them.
	DeleteCurrentTokenBalances(ctx context.Context, numbers []int64) ([]domain.CurrentTokenBalance, error)

	// LatestTokenBalanceBefore returns the most recent snapshot for key with block_number < before, or nil.
	LatestTokenBalanceBefore(ctx context.Context, key domain.BalanceKey, before int64) (*domain.TokenBalance, error)

	// UpsertCurrentTokenBalances writes current balances keyed by (address, contract, token_id).
	UpsertCurrentTokenBalances(ctx context.Context, balances []domain.CurrentTokenBalance, now time.Time) error
}

// TokenRepository handles tokens, transfers and token instances.
type TokenRepository interface {
	// AdjustHolderCounts adds delta to holder_count per contract and returns the updated tokens.
	AdjustHolderCounts(ctx context.Context, deltas map[string]int64, now time.Time) ([]domain.Token, error)

	// TokenInstancesOwnedAt returns instances of owner-tracking tokens whose owner pointer block is one of numbers.
	TokenInstancesOwnedAt(ctx context.Context, numbers []int64) ([]domain.TokenInstance, error)

	// LatestCanonicalTransfer returns the latest transfer of the token id whose block is canonical,
	// ordered by the variant, or nil.
	LatestCanonicalTransfer(ctx context.Context, contract string, tokenID *big.Int, variant domain.ChainVariant) (*domain.TokenTransfer, error)

	// TransferAt returns the transfer of the token id at (block_number, log_index) regardless of
	// canonical status, or nil. Collisions are resolved by the variant order, latest first.
	TransferAt(ctx context.Context, contract string, tokenID *big.Int, blockNumber int64, logIndex int64, variant domain.ChainVariant) (*domain.TokenTransfer, error)

	// UpdateTokenInstanceOwners writes owner and pointer columns of the given instances.
	UpdateTokenInstanceOwners(ctx context.Context, instances []domain.TokenInstance, now time.Time) error
}

// MissingRangeRepository handles the missing block range set.
type MissingRangeRepository interface {
	// MissingRangesNear returns ranges that overlap or touch [from, to], ordered by from_number.
	MissingRangesNear(ctx context.Context, from, to int64) ([]domain.MissingBlockRange, error)

	// InsertMissingRanges inserts ranges and returns them with ids assigned.
	InsertMissingRanges(ctx context.Context, ranges []domain.MissingBlockRange, now time.Time) ([]domain.MissingBlockRange, error)

	// UpdateMissingRanges rewrites bounds of existing ranges by id.
	UpdateMissingRanges(ctx context.Context, ranges []domain.MissingBlockRange, now time.Time) error

	// DeleteMissingRanges deletes ranges by id.
	DeleteMissingRanges(ctx context.Context, ids []int64) error
}

// PendingOperationRepository handles pending block operations.
type PendingOperationRepository interface {
	// InsertPendingBlockOperations inserts markers, skipping existing ones, and returns the inserted rows.
	InsertPendingBlockOperations(ctx context.Context, ops []domain.PendingBlockOperation, now time.Time) ([]domain.PendingBlockOperation, error)

	// DeletePendingBlockOperations deletes the markers of the given blocks and returns the deleted rows.
	DeletePendingBlockOperations(ctx context.Context, blockHashes []string) ([]domain.PendingBlockOperation, error)
}

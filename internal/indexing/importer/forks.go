package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// ForkResult holds the rows written while detaching transactions from demoted blocks.
type ForkResult struct {
	Forks    []domain.TransactionFork
	Unplaced []domain.Transaction
}

// DeriveForks records a fork row for every transaction attached to a demoted block,
// then clears the transaction's placement so it can be collated again.
// Fork rows that already hold the same transaction are not rewritten.
func DeriveForks(
	ctx context.Context,
	repo storage.TransactionRepository,
	lost []domain.LostConsensus,
	now time.Time,
) (*ForkResult, error) {
	if len(lost) == 0 {
		return &ForkResult{}, nil
	}

	blockHashes := make([]string, 0, len(lost))
	for _, l := range lost {
		blockHashes = append(blockHashes, l.Hash)
	}

	txs, err := repo.TransactionsByBlockHashes(ctx, blockHashes)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions of demoted blocks: %w", err)
	}
	if len(txs) == 0 {
		return &ForkResult{}, nil
	}

	forks := make([]domain.TransactionFork, 0, len(txs))
	txHashes := make([]string, 0, len(txs))
	for _, tx := range txs {
		forks = append(forks, domain.TransactionFork{
			UncleHash:       *tx.BlockHash,
			Index:           *tx.Index,
			TransactionHash: tx.Hash,
		})
		txHashes = append(txHashes, tx.Hash)
	}

	written, err := repo.UpsertTransactionForks(ctx, forks, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction forks: %w", err)
	}

	unplaced, err := repo.UnplaceTransactions(ctx, txHashes, now)
	if err != nil {
		return nil, fmt.Errorf("failed to detach transactions: %w", err)
	}

	return &ForkResult{Forks: written, Unplaced: unplaced}, nil
}

// CollateTransactions writes the batch's transactions with their placement.
// Placing a transaction into an unknown block is a constraint violation.
func CollateTransactions(
	ctx context.Context,
	repo storage.TransactionRepository,
	txs []domain.Transaction,
	now time.Time,
) ([]domain.Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	written, err := repo.UpsertTransactions(ctx, txs, now)
	if err != nil {
		return nil, fmt.Errorf("failed to collate transactions: %w", err)
	}
	return written, nil
}

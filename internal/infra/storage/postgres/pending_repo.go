package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/blockimport/internal/core/domain"
)

// InsertPendingBlockOperations inserts markers, skipping blocks that already have one.
func (u *UnitOfWork) InsertPendingBlockOperations(
	ctx context.Context,
	ops []domain.PendingBlockOperation,
	now time.Time,
) ([]domain.PendingBlockOperation, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(ops))
	numbers := make([]int64, len(ops))
	for i, op := range ops {
		hashes[i] = op.BlockHash
		numbers[i] = op.BlockNumber
	}

	var inserted []domain.PendingBlockOperation
	err = tx.SelectContext(ctx, &inserted, `
		INSERT INTO pending_block_operations (block_hash, block_number, inserted_at)
		SELECT h, n, $3
		FROM unnest($1::text[], $2::bigint[]) AS u(h, n)
		ON CONFLICT (block_hash) DO NOTHING
		RETURNING block_hash, block_number, inserted_at`,
		pq.Array(hashes), pq.Array(numbers), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pending block operations: %w", classify(err))
	}
	return inserted, nil
}

// DeletePendingBlockOperations deletes the markers of the given blocks.
func (u *UnitOfWork) DeletePendingBlockOperations(ctx context.Context, blockHashes []string) ([]domain.PendingBlockOperation, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(blockHashes) == 0 {
		return nil, nil
	}

	var deleted []domain.PendingBlockOperation
	err = tx.SelectContext(ctx, &deleted, `
		DELETE FROM pending_block_operations
		WHERE block_hash = ANY($1)
		RETURNING block_hash, block_number, inserted_at`,
		pq.Array(blockHashes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete pending block operations: %w", classify(err))
	}
	return deleted, nil
}

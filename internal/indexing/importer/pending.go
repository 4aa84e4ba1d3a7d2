package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// PendingChanges lists the markers written by one batch.
type PendingChanges struct {
	Inserted []domain.PendingBlockOperation
	Deleted  []domain.PendingBlockOperation
}

// SchedulePendingOperations drops the markers of blocks that lost consensus and marks blocks
// that were newly inserted as canonical. Updated rows and non-canonical blocks are never marked.
func SchedulePendingOperations(
	ctx context.Context,
	repo storage.PendingOperationRepository,
	blocks []domain.BlockChange,
	lost []domain.LostConsensus,
	now time.Time,
) (PendingChanges, error) {
	var changes PendingChanges
	if len(lost) > 0 {
		hashes := make([]string, len(lost))
		for i, l := range lost {
			hashes[i] = l.Hash
		}
		deleted, err := repo.DeletePendingBlockOperations(ctx, hashes)
		if err != nil {
			return PendingChanges{}, fmt.Errorf("failed to delete pending block operations: %w", err)
		}
		changes.Deleted = deleted
	}

	var ops []domain.PendingBlockOperation
	for _, b := range blocks {
		if b.Inserted && b.Consensus {
			ops = append(ops, domain.PendingBlockOperation{BlockHash: b.Hash, BlockNumber: b.Number})
		}
	}
	if len(ops) == 0 {
		return changes, nil
	}

	inserted, err := repo.InsertPendingBlockOperations(ctx, ops, now)
	if err != nil {
		return PendingChanges{}, fmt.Errorf("failed to insert pending block operations: %w", err)
	}
	changes.Inserted = inserted
	return changes, nil
}

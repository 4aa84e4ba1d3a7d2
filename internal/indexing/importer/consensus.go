package importer

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// ResolveConsensus demotes stored canonical blocks that the batch supersedes and returns them.
//
// A stored canonical block loses consensus when the batch asserts a different canonical hash
// at its height, or when the batch carries the same hash marked non-canonical.
// A non-canonical block never displaces a different canonical hash.
// It must run before the batch's blocks are upserted. It first locks every height the batch's
// later steps may read, so that concurrent batches over the same heights run one after another.
func ResolveConsensus(
	ctx context.Context,
	repo storage.BlockRepository,
	blocks []domain.Block,
	now time.Time,
) ([]domain.LostConsensus, error) {
	canonical := make(map[int64]string)
	demoted := make(map[string]bool)
	heights := make(map[int64]struct{})
	for _, b := range blocks {
		if b.Consensus {
			canonical[b.Number] = b.Hash
		} else {
			demoted[b.Hash] = true
		}
		heights[b.Number] = struct{}{}
	}
	if len(heights) == 0 {
		return nil, nil
	}

	if err := repo.LockHeights(ctx, LockSpan(blocks)); err != nil {
		return nil, fmt.Errorf("failed to lock heights: %w", err)
	}

	stored, err := repo.CanonicalBlocksByNumbers(ctx, slices.Sorted(maps.Keys(heights)))
	if err != nil {
		return nil, fmt.Errorf("failed to load canonical blocks: %w", err)
	}

	var hashes []string
	for _, s := range stored {
		if hash, ok := canonical[s.Number]; ok {
			if hash != s.Hash {
				hashes = append(hashes, s.Hash)
			}
			continue
		}
		if demoted[s.Hash] {
			hashes = append(hashes, s.Hash)
		}
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	lost, err := repo.LoseConsensus(ctx, hashes, now)
	if err != nil {
		return nil, fmt.Errorf("failed to demote blocks: %w", err)
	}
	return lost, nil
}

// UpsertBlocks writes the batch's blocks. Rows already stored with identical content are skipped.
func UpsertBlocks(
	ctx context.Context,
	repo storage.BlockRepository,
	blocks []domain.Block,
	now time.Time,
) ([]domain.BlockChange, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	changes, err := repo.UpsertBlocks(ctx, blocks, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert blocks: %w", err)
	}
	return changes, nil
}

// LockSpan returns the heights a batch may touch: each block's height, its parent's height
// and the two heights above it, whose link the continuity check reads.
func LockSpan(blocks []domain.Block) []int64 {
	heights := make([]int64, 0, len(blocks)*4)
	for _, b := range blocks {
		for n := b.Number - 1; n <= b.Number+2; n++ {
			if n >= 0 {
				heights = append(heights, n)
			}
		}
	}
	slices.Sort(heights)
	return slices.Compact(heights)
}

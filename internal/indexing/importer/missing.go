package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/ranges"
	"github.com/vietddude/blockimport/internal/indexing/reorg"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// RangeStore is the storage needed to maintain missing ranges.
type RangeStore interface {
	reorg.ChainReader
	storage.MissingRangeRepository
}

// AffectedHeights returns every height whose continuity may have changed: each written or
// demoted block's height and both neighbours.
func AffectedHeights(blocks []domain.BlockChange, lost []domain.LostConsensus) []int64 {
	heights := make([]int64, 0, (len(blocks)+len(lost))*3)
	for _, b := range blocks {
		heights = append(heights, b.Number-1, b.Number, b.Number+1)
	}
	for _, l := range lost {
		heights = append(heights, l.Number-1, l.Number, l.Number+1)
	}
	return heights
}

// DemotedHeights returns the heights of blocks that lost consensus.
func DemotedHeights(lost []domain.LostConsensus) []int64 {
	heights := make([]int64, 0, len(lost))
	for _, l := range lost {
		heights = append(heights, l.Number)
	}
	return heights
}

// UpdateMissingRanges reconciles stored missing ranges with chain continuity at heights.
// A demoted height left without a canonical block is missing even at the tip or floor.
// Stored ranges that overlap or touch the affected span are merged with new gaps, cut at
// heights that are no longer missing and written back as the smallest set of changes.
func UpdateMissingRanges(
	ctx context.Context,
	repo RangeStore,
	heights, demoted []int64,
	now time.Time,
) (RangeChanges, error) {
	if len(heights) == 0 && len(demoted) == 0 {
		return RangeChanges{}, nil
	}

	inspection, err := reorg.NewDetector(repo).Inspect(ctx, heights, demoted)
	if err != nil {
		return RangeChanges{}, fmt.Errorf("failed to inspect chain continuity: %w", err)
	}
	if len(inspection.Clear) == 0 && len(inspection.Gaps) == 0 {
		return RangeChanges{}, nil
	}

	lo, hi := span(inspection)
	stored, err := repo.MissingRangesNear(ctx, lo, hi)
	if err != nil {
		return RangeChanges{}, fmt.Errorf("failed to load missing ranges: %w", err)
	}

	all := make([]ranges.Range, 0, len(stored)+len(inspection.Gaps))
	for _, r := range stored {
		all = append(all, ranges.Range{Start: r.FromNumber, End: r.ToNumber})
	}
	all = append(all, inspection.Gaps...)
	desired := ranges.Subtract(ranges.MergeRanges(all), inspection.Clear)

	changes := diffRanges(stored, desired)

	if len(changes.Deleted) > 0 {
		ids := make([]int64, 0, len(changes.Deleted))
		for _, r := range changes.Deleted {
			ids = append(ids, r.ID)
		}
		if err := repo.DeleteMissingRanges(ctx, ids); err != nil {
			return RangeChanges{}, fmt.Errorf("failed to delete missing ranges: %w", err)
		}
	}
	if len(changes.Updated) > 0 {
		if err := repo.UpdateMissingRanges(ctx, changes.Updated, now); err != nil {
			return RangeChanges{}, fmt.Errorf("failed to update missing ranges: %w", err)
		}
		for i := range changes.Updated {
			changes.Updated[i].UpdatedAt = now
		}
	}
	if len(changes.Inserted) > 0 {
		inserted, err := repo.InsertMissingRanges(ctx, changes.Inserted, now)
		if err != nil {
			return RangeChanges{}, fmt.Errorf("failed to insert missing ranges: %w", err)
		}
		changes.Inserted = inserted
	}
	return changes, nil
}

func span(in *reorg.Inspection) (lo, hi int64) {
	first := true
	extend := func(start, end int64) {
		if first {
			lo, hi, first = start, end, false
			return
		}
		lo, hi = min(lo, start), max(hi, end)
	}
	for _, h := range in.Clear {
		extend(h, h)
	}
	for _, g := range in.Gaps {
		extend(g.Start, g.End)
	}
	return lo, hi
}

// diffRanges maps the desired set onto stored rows. A stored row overlapping a desired range
// is reused for it; stored rows left over are deleted. Both inputs are sorted by start.
func diffRanges(stored []domain.MissingBlockRange, desired []ranges.Range) RangeChanges {
	var changes RangeChanges
	used := make([]bool, len(stored))

	for _, want := range desired {
		reused := false
		for i, row := range stored {
			if used[i] || row.FromNumber > want.End || want.Start > row.ToNumber {
				continue
			}
			used[i] = true
			reused = true
			if row.FromNumber != want.Start || row.ToNumber != want.End {
				row.FromNumber, row.ToNumber = want.Start, want.End
				changes.Updated = append(changes.Updated, row)
			}
			break
		}
		if !reused {
			changes.Inserted = append(changes.Inserted, domain.MissingBlockRange{
				FromNumber: want.Start,
				ToNumber:   want.End,
			})
		}
	}

	for i, row := range stored {
		if !used[i] {
			changes.Deleted = append(changes.Deleted, row)
		}
	}
	return changes
}

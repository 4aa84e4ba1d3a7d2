package reorg

import (
	"context"
	"fmt"
	"slices"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/ranges"
)

// Detector checks canonical chain continuity using parent hash verification.
type Detector struct {
	reader ChainReader
}

// Inspection is the continuity status of a set of heights.
type Inspection struct {
	// Gaps are merged ranges of missing heights. A gap may extend beyond the inspected heights.
	Gaps []ranges.Range
	// Clear are inspected heights that are not missing.
	Clear []int64
}

// Inspect classifies heights as missing or clear. Demoted heights are heights whose block
// lost consensus; one left without a canonical block is missing even at the edge of the chain.
// An empty height outside the chain that was not demoted is neither missing nor clear.
// Negative heights are ignored.
func (d *Detector) Inspect(ctx context.Context, heights, demoted []int64) (*Inspection, error) {
	demoted = normalize(demoted)
	heights = normalize(append(slices.Clone(heights), demoted...))
	if len(heights) == 0 {
		return &Inspection{}, nil
	}

	// Each height is checked against its successor.
	lookup := make([]int64, 0, len(heights)*2)
	for _, h := range heights {
		lookup = append(lookup, h, h+1)
	}
	blocks, err := d.reader.CanonicalBlocksByNumbers(ctx, normalize(lookup))
	if err != nil {
		return nil, fmt.Errorf("failed to load canonical blocks: %w", err)
	}
	byNumber := make(map[int64]domain.Block, len(blocks))
	for _, b := range blocks {
		byNumber[b.Number] = b
	}

	result := &Inspection{}
	var gaps []ranges.Range
	for _, h := range heights {
		block, ok := byNumber[h]
		if !ok {
			if len(gaps) > 0 && gaps[len(gaps)-1].Contains(h) {
				continue
			}
			_, wasDemoted := slices.BinarySearch(demoted, h)
			gap, err := d.gapAround(ctx, h, wasDemoted)
			if err != nil {
				return nil, err
			}
			if gap != nil {
				gaps = append(gaps, *gap)
			}
			continue
		}

		if child, ok := byNumber[h+1]; ok && BrokenLink(block, child) {
			gaps = append(gaps, ranges.Range{Start: h, End: h})
			continue
		}
		result.Clear = append(result.Clear, h)
	}

	result.Gaps = ranges.MergeRanges(gaps)
	return result, nil
}

// gapAround returns the empty stretch containing h. Outside the known chain it returns nil,
// unless h was demoted: then the gap runs from h up to the next canonical block, or is h alone.
func (d *Detector) gapAround(ctx context.Context, h int64, demoted bool) (*ranges.Range, error) {
	below, err := d.reader.NearestCanonicalBelow(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to find canonical block below %d: %w", h, err)
	}
	if below == nil && !demoted {
		return nil, nil
	}
	above, err := d.reader.NearestCanonicalAbove(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to find canonical block above %d: %w", h, err)
	}

	switch {
	case below != nil && above != nil:
		return &ranges.Range{Start: below.Number + 1, End: above.Number - 1}, nil
	case !demoted:
		return nil, nil
	case above != nil:
		return &ranges.Range{Start: h, End: above.Number - 1}, nil
	default:
		return &ranges.Range{Start: h, End: h}, nil
	}
}

func normalize(heights []int64) []int64 {
	out := make([]int64, 0, len(heights))
	for _, h := range heights {
		if h >= 0 {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

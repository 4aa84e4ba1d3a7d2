// Package ranges implements closed block-height interval arithmetic.
package ranges

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Range represents a closed block range.
type Range struct {
	Start int64
	End   int64
}

// String returns the range in "start-end" format.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Contains reports whether n lies in the range.
func (r Range) Contains(n int64) bool {
	return r.Start <= n && n <= r.End
}

// Overlaps checks if two ranges overlap or are adjacent.
func (r Range) Overlaps(other Range) bool {
	return r.Start <= other.End+1 && other.Start <= r.End+1
}

// Merge merges two overlapping/adjacent ranges.
func (r Range) Merge(other Range) Range {
	return Range{Start: min(r.Start, other.Start), End: max(r.End, other.End)}
}

// Without removes n from the range, returning zero, one or two pieces.
func (r Range) Without(n int64) []Range {
	switch {
	case !r.Contains(n):
		return []Range{r}
	case r.Start == r.End:
		return nil
	case n == r.Start:
		return []Range{{Start: n + 1, End: r.End}}
	case n == r.End:
		return []Range{{Start: r.Start, End: n - 1}}
	default:
		return []Range{{Start: r.Start, End: n - 1}, {Start: n + 1, End: r.End}}
	}
}

// MergeRanges merges overlapping and adjacent ranges. The input is not modified.
func MergeRanges(ranges []Range) []Range {
	if len(ranges) <= 1 {
		return slices.Clone(ranges)
	}

	sorted := slices.Clone(ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	merged := []Range{sorted[0]}

	for i := 1; i < len(sorted); i++ {
		last := &merged[len(merged)-1]
		current := sorted[i]

		if last.Overlaps(current) {
			*last = last.Merge(current)
		} else {
			merged = append(merged, current)
		}
	}

	return merged
}

// Subtract removes every height in points from a merged, sorted set of ranges.
func Subtract(set []Range, points []int64) []Range {
	out := slices.Clone(set)
	for _, n := range points {
		next := make([]Range, 0, len(out)+1)
		for _, r := range out {
			next = append(next, r.Without(n)...)
		}
		out = next
	}
	return out
}

// ParseRange parses a "start-end" string into a Range.
func ParseRange(s string) (Range, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return Range{}, fmt.Errorf("invalid range format: %s", s)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid start in %q: %w", s, err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return Range{}, fmt.Errorf("invalid end in %q: %w", s, err)
	}
	if start > end {
		return Range{}, fmt.Errorf("start > end: %d > %d", start, end)
	}
	return Range{Start: start, End: end}, nil
}

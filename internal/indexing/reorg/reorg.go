// Package reorg checks canonical chain continuity around imported heights.
//
// # Design: Link-Based Gap Detection
//
// A height is missing when it is not durably linked into the canonical chain:
//   - it has no canonical block while canonical blocks exist both below and above it
//   - its canonical block is not the parent of the canonical block at height+1
//
// Empty heights below the earliest or above the latest canonical block are missing only when
// their block lost consensus in the inspected batch. Otherwise they are left untouched, so a
// range recorded for a demoted tip or floor survives until the height is filled.
//
// # Usage
//
//	detector := reorg.NewDetector(tx)
//	inspection, err := detector.Inspect(ctx, []int64{99, 100, 101}, nil)
//	// inspection.Gaps are missing, inspection.Clear are not
package reorg

import (
	"context"

	"github.com/vietddude/blockimport/internal/core/domain"
)

// ChainReader reads canonical blocks. Satisfied by storage.BlockRepository.
type ChainReader interface {
	CanonicalBlocksByNumbers(ctx context.Context, numbers []int64) ([]domain.Block, error)
	NearestCanonicalBelow(ctx context.Context, n int64) (*domain.Block, error)
	NearestCanonicalAbove(ctx context.Context, n int64) (*domain.Block, error)
}

// NewDetector creates a new continuity detector.
func NewDetector(reader ChainReader) *Detector {
	return &Detector{reader: reader}
}

// BrokenLink reports whether child sits directly above parent but does not point at it.
func BrokenLink(parent, child domain.Block) bool {
	return child.Number == parent.Number+1 && child.ParentHash != parent.Hash
}

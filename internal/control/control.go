package control

import (
	"context"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/importer"
)

// BatchImporter applies one batch atomically.
type BatchImporter interface {
	Import(ctx context.Context, batch domain.Batch) (*importer.Result, error)
}

// FailedBatchRecorder parks batches that exhausted their attempts.
type FailedBatchRecorder interface {
	Add(ctx context.Context, fb *domain.FailedBatch) error
}

// Source is a named batch waiting to be imported.
type Source struct {
	Name  string
	Batch domain.Batch
}

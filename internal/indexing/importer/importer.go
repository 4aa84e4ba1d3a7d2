// Package importer applies block batches and repairs every derived record in one transaction.
//
// # Flow
//
//	received -> deduplicated -> consensus-resolved -> upserted -> forks-derived ->
//	transactions-collated -> balances-invalidated -> holder-counts-updated ->
//	instance-owners-resolved -> ranges-updated -> pending-ops-scheduled -> committed
//
// Every state after deduplicated runs inside the same storage transaction. A failure at any
// state rolls the whole batch back; the caller resubmits it from scratch.
package importer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/metrics"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// State names a stage of a batch.
type State string

const (
	StateReceived               State = "received"
	StateDeduplicated           State = "deduplicated"
	StateConsensusResolved      State = "consensus-resolved"
	StateUpserted               State = "upserted"
	StateForksDerived           State = "forks-derived"
	StateTransactionsCollated   State = "transactions-collated"
	StateBalancesInvalidated    State = "balances-invalidated"
	StateHolderCountsUpdated    State = "holder-counts-updated"
	StateInstanceOwnersResolved State = "instance-owners-resolved"
	StateRangesUpdated          State = "ranges-updated"
	StatePendingOpsScheduled    State = "pending-ops-scheduled"
	StateCommitted              State = "committed"
)

var tracer = otel.Tracer("blockimport/importer")

// Notifier is told about committed batches. Errors are logged and never undo the commit.
type Notifier interface {
	Notify(ctx context.Context, result *Result) error
}

// Config holds importer configuration.
type Config struct {
	Chain   string              // label used in metrics and logs
	Variant domain.ChainVariant // transfer ordering for owner repair
	Timeout time.Duration       // per batch, 0 disables
}

// Importer applies batches. It is safe for concurrent use; concurrency control is left
// to the store.
type Importer struct {
	store     storage.Store
	config    Config
	notifiers []Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithNotifier adds a post-commit notifier. Notifiers run in the order they were added.
func WithNotifier(n Notifier) Option {
	return func(im *Importer) { im.notifiers = append(im.notifiers, n) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// WithClock sets the source of row timestamps.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// New creates an importer.
func New(store storage.Store, cfg Config, opts ...Option) *Importer {
	if cfg.Chain == "" {
		cfg.Chain = "default"
	}
	if cfg.Variant == "" {
		cfg.Variant = domain.ChainVariantDefault
	}
	im := &Importer{
		store:  store,
		config: cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	im.logger = im.logger.With("component", "importer", "chain", cfg.Chain)
	return im
}

// batchContext carries the deduplicated input and accumulated results between steps.
type batchContext struct {
	blocks  []domain.Block
	txs     []domain.Transaction
	now     time.Time
	variant domain.ChainVariant
	result  *Result
}

type step struct {
	state State
	run   func(ctx context.Context, tx storage.Tx, bc *batchContext) error
}

var steps = []step{
	{StateConsensusResolved, func(ctx context.Context, tx storage.Tx, bc *batchContext) (err error) {
		bc.result.LostConsensus, err = ResolveConsensus(ctx, tx, bc.blocks, bc.now)
		return err
	}},
	{StateUpserted, func(ctx context.Context, tx storage.Tx, bc *batchContext) (err error) {
		bc.result.Blocks, err = UpsertBlocks(ctx, tx, bc.blocks, bc.now)
		return err
	}},
	{StateForksDerived, func(ctx context.Context, tx storage.Tx, bc *batchContext) error {
		forks, err := DeriveForks(ctx, tx, bc.result.LostConsensus, bc.now)
		if err != nil {
			return err
		}
		bc.result.Forks, bc.result.UnplacedTransactions = forks.Forks, forks.Unplaced
		return nil
	}},
	{StateTransactionsCollated, func(ctx context.Context, tx storage.Tx, bc *batchContext) (err error) {
		bc.result.Transactions, err = CollateTransactions(ctx, tx, bc.txs, bc.now)
		return err
	}},
	{StateBalancesInvalidated, func(ctx context.Context, tx storage.Tx, bc *batchContext) (err error) {
		bc.result.DeletedBalances, err = InvalidateBalances(ctx, tx, bc.result.Blocks)
		return err
	}},
	{StateHolderCountsUpdated, func(ctx context.Context, tx storage.Tx, bc *batchContext) error {
		holders, err := UpdateHolderCounts(ctx, tx, bc.result.DeletedBalances, bc.now)
		if err != nil {
			return err
		}
		bc.result.Tokens, bc.result.RestoredBalances = holders.Tokens, holders.Restored
		return nil
	}},
	{StateInstanceOwnersResolved, func(ctx context.Context, tx storage.Tx, bc *batchContext) (err error) {
		bc.result.TokenInstances, err = ResolveInstanceOwners(ctx, tx, bc.result.LostConsensus, bc.variant, bc.now)
		return err
	}},
	{StateRangesUpdated, func(ctx context.Context, tx storage.Tx, bc *batchContext) (err error) {
		lost := bc.result.LostConsensus
		heights := AffectedHeights(bc.result.Blocks, lost)
		bc.result.MissingRanges, err = UpdateMissingRanges(ctx, tx, heights, DemotedHeights(lost), bc.now)
		return err
	}},
	{StatePendingOpsScheduled, func(ctx context.Context, tx storage.Tx, bc *batchContext) error {
		pending, err := SchedulePendingOperations(ctx, tx, bc.result.Blocks, bc.result.LostConsensus, bc.now)
		if err != nil {
			return err
		}
		bc.result.PendingOperations, bc.result.DeletedPendingOperations = pending.Inserted, pending.Deleted
		return nil
	}},
}

// Import applies the batch stamped with the importer's clock.
func (im *Importer) Import(ctx context.Context, batch domain.Batch) (*Result, error) {
	return im.ImportAt(ctx, batch, im.now())
}

// ImportAt applies the batch atomically, stamping created and updated rows with now.
// Validation failures are returned before any storage work. Any later failure rolls the
// batch back and is returned as a *StepError.
func (im *Importer) ImportAt(ctx context.Context, batch domain.Batch, now time.Time) (*Result, error) {
	start := time.Now()
	batchID := uuid.NewString()
	logger := im.logger.With("batch_id", batchID)

	ctx, span := tracer.Start(ctx, "importer.import_batch", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("chain", im.config.Chain),
		attribute.Int("batch.blocks", len(batch.Blocks)),
		attribute.Int("batch.transactions", len(batch.Transactions)),
	))
	defer span.End()

	if err := batch.Validate(); err != nil {
		metrics.BatchesTotal.WithLabelValues(im.config.Chain, "invalid").Inc()
		logger.Warn("Batch rejected", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid batch")
		return nil, &StepError{State: StateReceived, Err: err}
	}

	bc := &batchContext{
		blocks:  domain.DedupBlocks(batch.Blocks),
		txs:     domain.DedupTransactions(batch.Transactions),
		now:     now.UTC(),
		variant: im.config.Variant,
		result:  &Result{BatchID: batchID},
	}
	logger.Debug("Batch deduplicated",
		"blocks", len(bc.blocks), "dropped_blocks", len(batch.Blocks)-len(bc.blocks),
		"transactions", len(bc.txs))

	txCtx := ctx
	if im.config.Timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, im.config.Timeout)
		defer cancel()
	}

	tx, err := im.store.Begin(txCtx)
	if err != nil {
		return nil, im.abort(span, logger, StateDeduplicated, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range steps {
		stepStart := time.Now()
		stepCtx, stepSpan := tracer.Start(txCtx, "importer."+string(s.state))
		err := s.run(stepCtx, tx, bc)
		stepSpan.SetAttributes(attribute.Int("rows", bc.result.Counts()[s.state]))
		stepSpan.End()
		if err != nil {
			return nil, im.abort(span, logger, s.state, err)
		}
		metrics.StepDuration.WithLabelValues(im.config.Chain, string(s.state)).
			Observe(time.Since(stepStart).Seconds())
		logger.Debug("Step completed", "state", s.state, "rows", bc.result.Counts()[s.state])
	}

	// A deadline that passed during the last step must still abort the batch.
	if err := txCtx.Err(); err != nil {
		return nil, im.abort(span, logger, StateCommitted, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, im.abort(span, logger, StateCommitted, err)
	}

	result := bc.result
	im.record(result, time.Since(start))
	logger.Info("Batch committed",
		"blocks", len(result.Blocks),
		"lost_consensus", len(result.LostConsensus),
		"forks", len(result.Forks),
		"missing_range_changes", result.MissingRanges.Len(),
		"pending_operations", len(result.PendingOperations),
		"dropped_pending_operations", len(result.DeletedPendingOperations),
		"duration", time.Since(start))

	for _, n := range im.notifiers {
		if err := n.Notify(ctx, result); err != nil {
			logger.Warn("Failed to notify committed batch", "error", err)
			span.AddEvent("notify failed", trace.WithAttributes(attribute.String("error", err.Error())))
		}
	}
	return result, nil
}

func (im *Importer) abort(span trace.Span, logger *slog.Logger, state State, err error) error {
	status := "aborted"
	if errors.Is(err, storage.ErrConstraint) {
		status = "constraint"
	} else if IsRetryable(err) {
		status = "transient"
	}
	metrics.BatchesTotal.WithLabelValues(im.config.Chain, status).Inc()
	logger.Error("Batch aborted", "state", state, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "aborted at "+string(state))
	return &StepError{State: state, Err: err}
}

func (im *Importer) record(r *Result, elapsed time.Duration) {
	chain := im.config.Chain
	metrics.BatchesTotal.WithLabelValues(chain, "committed").Inc()
	metrics.BatchDuration.WithLabelValues(chain).Observe(elapsed.Seconds())
	metrics.BlocksImported.WithLabelValues(chain).Add(float64(len(r.Blocks)))
	metrics.ConsensusLost.WithLabelValues(chain).Add(float64(len(r.LostConsensus)))
	metrics.ForksWritten.WithLabelValues(chain).Add(float64(len(r.Forks)))
	metrics.BalancesInvalidated.WithLabelValues(chain).Add(float64(len(r.DeletedBalances)))
	metrics.HolderCountUpdates.WithLabelValues(chain).Add(float64(len(r.Tokens)))
	metrics.OwnerRepairs.WithLabelValues(chain).Add(float64(len(r.TokenInstances)))
	metrics.MissingRangeChanges.WithLabelValues(chain, "insert").Add(float64(len(r.MissingRanges.Inserted)))
	metrics.MissingRangeChanges.WithLabelValues(chain, "update").Add(float64(len(r.MissingRanges.Updated)))
	metrics.MissingRangeChanges.WithLabelValues(chain, "delete").Add(float64(len(r.MissingRanges.Deleted)))
	metrics.PendingOperationsScheduled.WithLabelValues(chain).Add(float64(len(r.PendingOperations)))
}

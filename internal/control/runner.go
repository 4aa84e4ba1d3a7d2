package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/importer"
)

// RunnerConfig holds batch runner settings.
type RunnerConfig struct {
	Chain        string
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration // doubled after every transient failure
	RateLimit    int           // import attempts per second across workers, 0 is unlimited
}

// Outcome is the final state of one source.
type Outcome struct {
	Source   string
	Attempts int
	Result   *importer.Result
	Err      error
}

// Summary collects the outcomes of a run in completion order.
type Summary struct {
	Imported int
	Failed   int
	Outcomes []Outcome
}

// Runner imports sources concurrently, retrying transient failures with exponential backoff.
type Runner struct {
	importer BatchImporter
	failed   FailedBatchRecorder
	cfg      RunnerConfig
	limiter  ratelimit.Limiter
	log      *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. failed may be nil, in which case exhausted batches are only logged.
func NewRunner(im BatchImporter, failed FailedBatchRecorder, cfg RunnerConfig, log *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	limiter := ratelimit.NewUnlimited()
	if cfg.RateLimit > 0 {
		limiter = ratelimit.New(cfg.RateLimit)
	}
	return &Runner{
		importer: im,
		failed:   failed,
		cfg:      cfg,
		limiter:  limiter,
		log:      log.With("component", "runner"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Run imports every source and returns once all are done or ctx is canceled.
// A failed source does not stop the others.
func (r *Runner) Run(ctx context.Context, sources []Source) (*Summary, error) {
	var (
		mu      sync.Mutex
		summary Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, src := range sources {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := r.importOne(gctx, src)

			mu.Lock()
			defer mu.Unlock()
			summary.Outcomes = append(summary.Outcomes, outcome)
			if outcome.Err != nil {
				summary.Failed++
			} else {
				summary.Imported++
			}
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return &summary, err
	}
	return &summary, nil
}

func (r *Runner) importOne(ctx context.Context, src Source) Outcome {
	outcome := Outcome{Source: src.Name}
	backoff := r.cfg.RetryBackoff

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		r.limiter.Take()
		result, err := r.importer.Import(ctx, src.Batch)
		if err == nil {
			outcome.Result, outcome.Err = result, nil
			r.log.Info("Batch imported",
				"source", src.Name,
				"batch_id", result.BatchID,
				"attempts", attempt,
			)
			return outcome
		}
		outcome.Err = err

		if !importer.IsRetryable(err) || attempt == r.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		r.log.Warn("Transient import failure, retrying",
			"source", src.Name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := r.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
	}

	r.log.Error("Batch failed",
		"source", src.Name,
		"attempts", outcome.Attempts,
		"state", importer.FailedState(outcome.Err),
		"error", outcome.Err,
	)
	r.park(ctx, src, outcome)
	return outcome
}

func (r *Runner) park(ctx context.Context, src Source, outcome Outcome) {
	if r.failed == nil || errors.Is(outcome.Err, context.Canceled) {
		return
	}
	fb := &domain.FailedBatch{
		ID:          FailedBatchID(r.cfg.Chain, src.Name),
		Chain:       r.cfg.Chain,
		Source:      src.Name,
		State:       string(importer.FailedState(outcome.Err)),
		Error:       outcome.Err.Error(),
		LastAttempt: r.now(),
		Batch:       src.Batch,
	}
	// The run context may already be done; parking must still go through.
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.failed.Add(parkCtx, fb); err != nil {
		r.log.Error("Failed to record failed batch", "source", src.Name, "error", err)
	}
}

// FailedBatchID derives a stable id so re-failing the same source bumps its retry count.
func FailedBatchID(chain, source string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("blockimport:%s:%s", chain, source))).String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

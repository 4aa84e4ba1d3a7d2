package cli

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockimport/internal/control"
)

var retryLimit int

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-import batches parked in the failed-batch queue",
	RunE:  runRetry,
}

func init() {
	retryCmd.Flags().IntVar(&retryLimit, "limit", 100, "maximum number of parked batches to retry")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, *cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	queue := app.FailedBatches()
	if queue == nil {
		return errors.New("redis is not configured or unavailable")
	}

	parked, err := queue.List(ctx, retryLimit)
	if err != nil {
		return err
	}
	if len(parked) == 0 {
		slog.Info("No failed batches to retry")
		return nil
	}

	sources := make([]control.Source, len(parked))
	for i, fb := range parked {
		sources[i] = control.Source{Name: fb.Source, Batch: fb.Batch}
	}

	// Failures are parked again under the same id with a bumped retry count.
	summary, err := app.Runner().Run(ctx, sources)
	if err != nil {
		return err
	}
	for _, o := range summary.Outcomes {
		if o.Err != nil {
			continue
		}
		if err := queue.MarkResolved(ctx, control.FailedBatchID(cfg.Import.Chain, o.Source)); err != nil {
			slog.Error("Failed to resolve batch", "source", o.Source, "error", err)
		}
	}

	slog.Info("Retry finished", "resolved", summary.Imported, "failed", summary.Failed)
	return nil
}

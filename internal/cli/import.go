package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockimport/internal/control"
	"github.com/vietddude/blockimport/internal/core/domain"
)

var importCmd = &cobra.Command{
	Use:   "import [file ...]",
	Short: "Import JSON batch files (\"-\" reads stdin)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	sources, err := readSources(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewApp(ctx, *cfg)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(shutdownCtx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	summary, err := app.Runner().Run(ctx, sources)
	if err != nil {
		return err
	}

	slog.Info("Import finished", "imported", summary.Imported, "failed", summary.Failed)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d batches failed", summary.Failed, len(sources))
	}
	return nil
}

// readSources decodes one batch per argument. "-" reads a stream of batches from stdin.
func readSources(args []string, stdin io.Reader) ([]control.Source, error) {
	var sources []control.Source
	for _, arg := range args {
		if arg == "-" {
			batches, err := decodeBatches(stdin)
			if err != nil {
				return nil, fmt.Errorf("stdin: %w", err)
			}
			for i, b := range batches {
				sources = append(sources, control.Source{Name: fmt.Sprintf("stdin#%d", i), Batch: b})
			}
			continue
		}

		f, err := os.Open(arg)
		if err != nil {
			return nil, err
		}
		batches, err := decodeBatches(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
		for i, b := range batches {
			name := arg
			if len(batches) > 1 {
				name = fmt.Sprintf("%s#%d", arg, i)
			}
			sources = append(sources, control.Source{Name: name, Batch: b})
		}
	}
	return sources, nil
}

func decodeBatches(r io.Reader) ([]domain.Batch, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var batches []domain.Batch
	for {
		var b domain.Batch
		err := dec.Decode(&b)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode batch %d: %w", len(batches), err)
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("no batches")
	}
	return batches, nil
}

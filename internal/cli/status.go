package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/core/format"
	redisclient "github.com/vietddude/blockimport/internal/infra/redis"
	"github.com/vietddude/blockimport/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the chain head, missing ranges and pending block operations",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// importStatus is everything the status command prints.
type importStatus struct {
	Chain         string
	Head          *domain.Block
	MissingRanges []domain.MissingBlockRange
	Pending       int64
	FailedBatches int
	Queued        int // -1 when redis is not configured
}

func runStatus(cmd *cobra.Command, args []string) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is not configured")
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	st := importStatus{Chain: cfg.Import.Chain, Queued: -1}
	if st.Head, err = db.LatestCanonicalBlock(ctx); err != nil {
		return err
	}
	if st.MissingRanges, err = db.MissingRanges(ctx); err != nil {
		return err
	}
	if st.Pending, err = db.CountPendingBlockOperations(ctx); err != nil {
		return err
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, skipping queue status", "error", err)
		} else {
			defer func() {
				_ = client.Close()
			}()
			queued, err := client.MissingRanges(ctx, cfg.Import.Chain)
			if err != nil {
				return err
			}
			st.Queued = len(queued)
			if st.FailedBatches, err = redisclient.NewFailedBatchRepo(client, cfg.Import.Chain).Count(ctx); err != nil {
				return err
			}
		}
	}

	writeStatus(cmd.OutOrStdout(), st)
	return nil
}

func writeStatus(out io.Writer, st importStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)

	head, headHash := "-", "-"
	if st.Head != nil {
		head = fmt.Sprintf("%d", st.Head.Number)
		headHash = format.ShortHash(st.Head.Hash).Or("-")
	}
	_, _ = fmt.Fprintf(w, "CHAIN\t%s\n", st.Chain)
	_, _ = fmt.Fprintf(w, "HEAD\t%s\t%s\n", head, headHash)
	_, _ = fmt.Fprintf(w, "PENDING OPERATIONS\t%d\n", st.Pending)
	if st.Queued >= 0 {
		_, _ = fmt.Fprintf(w, "QUEUED RANGES\t%d\n", st.Queued)
		_, _ = fmt.Fprintf(w, "FAILED BATCHES\t%d\n", st.FailedBatches)
	}
	_ = w.Flush()

	if len(st.MissingRanges) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo missing ranges.")
		return
	}

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "FROM\tTO\tBLOCKS\tUPDATED")
	for _, r := range st.MissingRanges {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%s\n",
			r.FromNumber, r.ToNumber, r.ToNumber-r.FromNumber+1, r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}

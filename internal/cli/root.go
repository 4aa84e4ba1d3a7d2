package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/blockimport/internal/core/config"
)

var (
	cfgPath string
	isDebug bool

	// cfg is loaded once in PersistentPreRunE for every subcommand.
	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "blockimport",
	Short: "Block import consistency engine",
	Long: `blockimport imports batches of blocks and transactions into PostgreSQL, keeping
consensus, forks, token balances, holder counts, NFT owners and missing ranges consistent.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	// Load Configuration
	loaded, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		return err
	}
	cfg = loaded

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug {
		slogLevel = slog.LevelDebug
	} else if err := slogLevel.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		slogLevel = slog.LevelInfo
	}

	if cfg.Logging.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
		return nil
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Use pgx via database/sql
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/metrics"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	MaxConns  int    `yaml:"max_conns"`
	MinConns  int    `yaml:"min_conns"`
	Isolation string `yaml:"isolation"` // read_committed (default), repeatable_read, serializable
}

// DB wraps the PostgreSQL connection.
type DB struct {
	*sqlx.DB
	isolation sql.IsolationLevel
}

var _ storage.Store = (*DB)(nil)

// ParseIsolation maps a config value to an isolation level. Empty means read committed.
func ParseIsolation(s string) (sql.IsolationLevel, error) {
	switch s {
	case "", "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q", s)
	}
}

// NewDB creates a new database connection.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	isolation, err := ParseIsolation(cfg.Isolation)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set pool configuration
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}

	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}

	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, isolation: isolation}, nil
}

// Begin opens an import transaction at the configured isolation level.
func (db *DB) Begin(ctx context.Context) (storage.Tx, error) {
	return db.NewUnitOfWork(ctx)
}

// StartMetricsCollector starts a background goroutine to collect DB metrics.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				// MaxOpenConnections is 0 when unlimited.
				if stats.MaxOpenConnections > 0 {
					usage := float64(stats.InUse) / float64(stats.MaxOpenConnections)
					metrics.DBConnectionPoolUsage.Set(usage)
				}
			}
		}
	}()
}

// Health checks if the database is healthy.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// MissingRanges returns every stored missing range ordered by from_number.
func (db *DB) MissingRanges(ctx context.Context) ([]domain.MissingBlockRange, error) {
	var out []domain.MissingBlockRange
	err := db.SelectContext(ctx, &out, `
		SELECT id, from_number, to_number, inserted_at, updated_at
		FROM missing_block_ranges
		ORDER BY from_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing ranges: %w", classify(err))
	}
	return out, nil
}

// CountPendingBlockOperations returns the number of outstanding pending block operations.
func (db *DB) CountPendingBlockOperations(ctx context.Context) (int64, error) {
	var n int64
	if err := db.GetContext(ctx, &n, `SELECT count(*) FROM pending_block_operations`); err != nil {
		return 0, fmt.Errorf("failed to count pending block operations: %w", classify(err))
	}
	return n, nil
}

// LatestCanonicalBlock returns the highest block holding consensus, or nil for an empty chain.
func (db *DB) LatestCanonicalBlock(ctx context.Context) (*domain.Block, error) {
	var b domain.Block
	err := db.GetContext(ctx, &b, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE consensus
		ORDER BY number DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest canonical block: %w", classify(err))
	}
	return &b, nil
}

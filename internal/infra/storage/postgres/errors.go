package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/blockimport/internal/infra/storage"
)

// SQLSTATE codes that are safe to retry.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

// classify tags err with storage.ErrConstraint or storage.ErrTransient when its SQLSTATE says so.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", storage.ErrTransient, err)
	}

	code := sqlState(err)
	switch {
	case code == "":
		return err
	case strings.HasPrefix(code, "23"):
		return fmt.Errorf("%w: %w", storage.ErrConstraint, err)
	case strings.HasPrefix(code, "08"), transientCodes[code]:
		return fmt.Errorf("%w: %w", storage.ErrTransient, err)
	default:
		return err
	}
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/blockimport/internal/infra/storage"
)

// UnitOfWork bundles all persistence operations of one batch into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	db *DB
	tx *sqlx.Tx
}

var _ storage.Tx = (*UnitOfWork)(nil)

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: db.isolation})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}

	return &UnitOfWork{db: db, tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	err := u.tx.Commit()
	u.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit: %w", classify(err))
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

func (u *UnitOfWork) active() (*sqlx.Tx, error) {
	if u.tx == nil {
		return nil, storage.ErrTxDone
	}
	return u.tx, nil
}

// -----------------------------------------------------------------------------
// NUMERIC helpers
// -----------------------------------------------------------------------------

// numeric renders v for a NUMERIC parameter. nil maps to NULL.
func numeric(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

// parseNumeric reads an integral NUMERIC column scanned as text.
func parseNumeric(s sql.NullString) (*big.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s.String)
	}
	return v, nil
}

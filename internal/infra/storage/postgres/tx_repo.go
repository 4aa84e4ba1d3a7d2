package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/metrics"
)

const txColumns = `hash, block_hash, block_number, "index", from_address, to_address, inserted_at, updated_at`

const forkColumns = `uncle_hash, "index", transaction_hash, inserted_at, updated_at`

// TransactionsByBlockHashes returns the transactions placed in any of the blocks, locked FOR UPDATE.
func (u *UnitOfWork) TransactionsByBlockHashes(ctx context.Context, blockHashes []string) ([]domain.Transaction, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(blockHashes) == 0 {
		return nil, nil
	}

	var txs []domain.Transaction
	err = tx.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE block_hash = ANY($1::text[])
		ORDER BY block_hash, "index"
		FOR UPDATE`,
		pq.Array(blockHashes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions by block: %w", classify(err))
	}
	return txs, nil
}

// UnplaceTransactions clears placement of the given transactions.
func (u *UnitOfWork) UnplaceTransactions(ctx context.Context, hashes []string, now time.Time) ([]domain.Transaction, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	var txs []domain.Transaction
	err = tx.SelectContext(ctx, &txs, `
		UPDATE transactions
		SET block_hash = NULL, block_number = NULL, "index" = NULL, updated_at = $2
		WHERE hash = ANY($1::text[]) AND block_hash IS NOT NULL
		RETURNING `+txColumns,
		pq.Array(hashes), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to unplace transactions: %w", classify(err))
	}
	return txs, nil
}

// UpsertTransactions writes transactions in one statement. The (block_hash, index) constraint is
// checked at statement end, so positions may be swapped within a batch.
func (u *UnitOfWork) UpsertTransactions(ctx context.Context, txs []domain.Transaction, now time.Time) ([]domain.Transaction, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	metrics.DBBatchSize.WithLabelValues("upsert_transactions").Observe(float64(len(txs)))

	var (
		hashes       = make([]string, len(txs))
		blockHashes  = make([]sql.NullString, len(txs))
		blockNumbers = make([]sql.NullInt64, len(txs))
		indexes      = make([]sql.NullInt64, len(txs))
		froms        = make([]string, len(txs))
		tos          = make([]sql.NullString, len(txs))
	)
	for i, t := range txs {
		hashes[i] = t.Hash
		froms[i] = t.FromAddress
		if t.BlockHash != nil {
			blockHashes[i] = sql.NullString{String: *t.BlockHash, Valid: true}
		}
		if t.BlockNumber != nil {
			blockNumbers[i] = sql.NullInt64{Int64: *t.BlockNumber, Valid: true}
		}
		if t.Index != nil {
			indexes[i] = sql.NullInt64{Int64: int64(*t.Index), Valid: true}
		}
		if t.ToAddress != nil {
			tos[i] = sql.NullString{String: *t.ToAddress, Valid: true}
		}
	}

	var written []domain.Transaction
	err = tx.SelectContext(ctx, &written, `
		INSERT INTO transactions AS t (`+txColumns+`)
		SELECT h, bh, bn, i, f, tt, $7, $7
		FROM unnest($1::text[], $2::text[], $3::bigint[], $4::integer[], $5::text[], $6::text[])
			AS u(h, bh, bn, i, f, tt)
		ON CONFLICT (hash) DO UPDATE SET
			block_hash = EXCLUDED.block_hash,
			block_number = EXCLUDED.block_number,
			"index" = EXCLUDED."index",
			from_address = EXCLUDED.from_address,
			to_address = EXCLUDED.to_address,
			updated_at = EXCLUDED.updated_at
		WHERE (t.block_hash, t.block_number, t."index", t.from_address, t.to_address)
			IS DISTINCT FROM
			(EXCLUDED.block_hash, EXCLUDED.block_number, EXCLUDED."index", EXCLUDED.from_address, EXCLUDED.to_address)
		RETURNING `+txColumns,
		pq.Array(hashes), pq.Array(blockHashes), pq.Array(blockNumbers), pq.Array(indexes),
		pq.Array(froms), pq.Array(tos), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transactions: %w", classify(err))
	}
	return written, nil
}

// UpsertTransactionForks writes forks keyed by (uncle_hash, index). A row that already points at
// the same transaction is left alone.
func (u *UnitOfWork) UpsertTransactionForks(
	ctx context.Context,
	forks []domain.TransactionFork,
	now time.Time,
) ([]domain.TransactionFork, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	forks = dedupForks(forks)
	if len(forks) == 0 {
		return nil, nil
	}
	metrics.DBBatchSize.WithLabelValues("upsert_transaction_forks").Observe(float64(len(forks)))

	var (
		uncles  = make([]string, len(forks))
		indexes = make([]int64, len(forks))
		hashes  = make([]string, len(forks))
	)
	for i, f := range forks {
		uncles[i] = f.UncleHash
		indexes[i] = int64(f.Index)
		hashes[i] = f.TransactionHash
	}

	var written []domain.TransactionFork
	err = tx.SelectContext(ctx, &written, `
		INSERT INTO transaction_forks AS f (`+forkColumns+`)
		SELECT uh, i, h, $4, $4
		FROM unnest($1::text[], $2::integer[], $3::text[]) AS u(uh, i, h)
		ON CONFLICT (uncle_hash, "index") DO UPDATE SET
			transaction_hash = EXCLUDED.transaction_hash,
			updated_at = EXCLUDED.updated_at
		WHERE f.transaction_hash <> EXCLUDED.transaction_hash
		RETURNING `+forkColumns,
		pq.Array(uncles), pq.Array(indexes), pq.Array(hashes), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction forks: %w", classify(err))
	}
	return written, nil
}

// dedupForks keeps the last fork per (uncle_hash, index). ON CONFLICT cannot touch a row twice.
func dedupForks(forks []domain.TransactionFork) []domain.TransactionFork {
	type key struct {
		uncle string
		index int
	}
	seen := make(map[key]int, len(forks))
	out := make([]domain.TransactionFork, 0, len(forks))
	for _, f := range forks {
		k := key{f.UncleHash, f.Index}
		if i, ok := seen[k]; ok {
			out[i] = f
			continue
		}
		seen[k] = len(out)
		out = append(out, f)
	}
	return out
}

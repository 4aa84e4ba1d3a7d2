package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/indexing/metrics"
)

const blockColumns = `hash, number, parent_hash, miner_hash, consensus, "timestamp", inserted_at, updated_at`

// LockHeights takes a transaction-scoped advisory lock per height in ascending order.
func (u *UnitOfWork) LockHeights(ctx context.Context, numbers []int64) error {
	tx, err := u.active()
	if err != nil {
		return err
	}
	if len(numbers) == 0 {
		return nil
	}

	sorted := slices.Clone(numbers)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(n) FROM unnest($1::bigint[]) AS n`,
		pq.Array(sorted),
	); err != nil {
		return fmt.Errorf("failed to lock heights: %w", classify(err))
	}
	return nil
}

// CanonicalBlocksByNumbers returns the consensus blocks at the given heights locked FOR UPDATE.
func (u *UnitOfWork) CanonicalBlocksByNumbers(ctx context.Context, numbers []int64) ([]domain.Block, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	sorted := slices.Clone(numbers)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var blocks []domain.Block
	err = tx.SelectContext(ctx, &blocks, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE consensus AND number = ANY($1::bigint[])
		ORDER BY number
		FOR UPDATE`,
		pq.Array(sorted),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get canonical blocks: %w", classify(err))
	}
	return blocks, nil
}

// LoseConsensus flips consensus off for the given hashes.
func (u *UnitOfWork) LoseConsensus(ctx context.Context, hashes []string, now time.Time) ([]domain.LostConsensus, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	var lost []domain.LostConsensus
	err = tx.SelectContext(ctx, &lost, `
		UPDATE blocks
		SET consensus = false, updated_at = $2
		WHERE hash = ANY($1::text[]) AND consensus
		RETURNING number, hash`,
		pq.Array(hashes), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lose consensus: %w", classify(err))
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i].Number < lost[j].Number })
	return lost, nil
}

// UpsertBlocks writes blocks in one statement. Rows whose content is unchanged are skipped
// by the conflict guard and so never appear in RETURNING.
func (u *UnitOfWork) UpsertBlocks(ctx context.Context, blocks []domain.Block, now time.Time) ([]domain.BlockChange, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	metrics.DBBatchSize.WithLabelValues("upsert_blocks").Observe(float64(len(blocks)))

	var (
		hashes     = make([]string, len(blocks))
		numbers    = make([]int64, len(blocks))
		parents    = make([]string, len(blocks))
		miners     = make([]string, len(blocks))
		consensus  = make([]bool, len(blocks))
		timestamps = make([]string, len(blocks))
	)
	for i, b := range blocks {
		hashes[i] = b.Hash
		numbers[i] = b.Number
		parents[i] = b.ParentHash
		miners[i] = b.MinerHash
		consensus[i] = b.Consensus
		timestamps[i] = b.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	var changes []domain.BlockChange
	err = tx.SelectContext(ctx, &changes, `
		INSERT INTO blocks AS b (`+blockColumns+`)
		SELECT h, n, p, m, c, ts, $7, $7
		FROM unnest($1::text[], $2::bigint[], $3::text[], $4::text[], $5::bool[], $6::timestamptz[])
			AS u(h, n, p, m, c, ts)
		ON CONFLICT (hash) DO UPDATE SET
			number = EXCLUDED.number,
			parent_hash = EXCLUDED.parent_hash,
			miner_hash = EXCLUDED.miner_hash,
			consensus = EXCLUDED.consensus,
			"timestamp" = EXCLUDED."timestamp",
			updated_at = EXCLUDED.updated_at
		WHERE (b.number, b.parent_hash, b.miner_hash, b.consensus, b."timestamp")
			IS DISTINCT FROM
			(EXCLUDED.number, EXCLUDED.parent_hash, EXCLUDED.miner_hash, EXCLUDED.consensus, EXCLUDED."timestamp")
		RETURNING `+blockColumns+`, (xmax = 0) AS inserted`,
		pq.Array(hashes), pq.Array(numbers), pq.Array(parents), pq.Array(miners),
		pq.Array(consensus), pq.Array(timestamps), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert blocks: %w", classify(err))
	}
	return changes, nil
}

// NearestCanonicalBelow returns the highest consensus block below n.
func (u *UnitOfWork) NearestCanonicalBelow(ctx context.Context, n int64) (*domain.Block, error) {
	return u.nearestCanonical(ctx, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE consensus AND number < $1
		ORDER BY number DESC
		LIMIT 1`, n)
}

// NearestCanonicalAbove returns the lowest consensus block above n.
func (u *UnitOfWork) NearestCanonicalAbove(ctx context.Context, n int64) (*domain.Block, error) {
	return u.nearestCanonical(ctx, `
		SELECT `+blockColumns+`
		FROM blocks
		WHERE consensus AND number > $1
		ORDER BY number
		LIMIT 1`, n)
}

func (u *UnitOfWork) nearestCanonical(ctx context.Context, query string, n int64) (*domain.Block, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}

	var block domain.Block
	err = tx.GetContext(ctx, &block, query, n)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get nearest canonical block: %w", classify(err))
	}
	return &block, nil
}

package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/blockimport/internal/core/domain"
)

// missingRangesLock is the advisory lock serializing edits of the missing range set.
const missingRangesLock int32 = 1

const rangeColumns = `id, from_number, to_number, inserted_at, updated_at`

// MissingRangesNear takes the range-set lock and returns ranges overlapping or touching [from, to].
func (u *UnitOfWork) MissingRangesNear(ctx context.Context, from, to int64) ([]domain.MissingBlockRange, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, 0)`, missingRangesLock); err != nil {
		return nil, fmt.Errorf("failed to lock missing ranges: %w", classify(err))
	}

	var ranges []domain.MissingBlockRange
	err = tx.SelectContext(ctx, &ranges, `
		SELECT `+rangeColumns+`
		FROM missing_block_ranges
		WHERE from_number <= $2 + 1 AND to_number + 1 >= $1
		ORDER BY from_number
		FOR UPDATE`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get missing ranges: %w", classify(err))
	}
	return ranges, nil
}

// InsertMissingRanges inserts ranges and returns them with ids, ordered by from_number.
func (u *UnitOfWork) InsertMissingRanges(
	ctx context.Context,
	ranges []domain.MissingBlockRange,
	now time.Time,
) ([]domain.MissingBlockRange, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, nil
	}

	froms, tos := bounds(ranges)
	var inserted []domain.MissingBlockRange
	err = tx.SelectContext(ctx, &inserted, `
		INSERT INTO missing_block_ranges (from_number, to_number, inserted_at, updated_at)
		SELECT f, t, $3, $3
		FROM unnest($1::bigint[], $2::bigint[]) AS u(f, t)
		RETURNING `+rangeColumns,
		pq.Array(froms), pq.Array(tos), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert missing ranges: %w", classify(err))
	}
	sort.Slice(inserted, func(i, j int) bool { return inserted[i].FromNumber < inserted[j].FromNumber })
	return inserted, nil
}

// UpdateMissingRanges rewrites bounds by id.
func (u *UnitOfWork) UpdateMissingRanges(ctx context.Context, ranges []domain.MissingBlockRange, now time.Time) error {
	tx, err := u.active()
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return nil
	}

	ids := make([]int64, len(ranges))
	for i, r := range ranges {
		ids[i] = r.ID
	}
	froms, tos := bounds(ranges)

	_, err = tx.ExecContext(ctx, `
		UPDATE missing_block_ranges AS r
		SET from_number = u.f, to_number = u.t, updated_at = $4
		FROM unnest($1::bigint[], $2::bigint[], $3::bigint[]) AS u(id, f, t)
		WHERE r.id = u.id`,
		pq.Array(ids), pq.Array(froms), pq.Array(tos), now,
	)
	if err != nil {
		return fmt.Errorf("failed to update missing ranges: %w", classify(err))
	}
	return nil
}

// DeleteMissingRanges deletes ranges by id.
func (u *UnitOfWork) DeleteMissingRanges(ctx context.Context, ids []int64) error {
	tx, err := u.active()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM missing_block_ranges WHERE id = ANY($1::bigint[])`,
		pq.Array(ids),
	); err != nil {
		return fmt.Errorf("failed to delete missing ranges: %w", classify(err))
	}
	return nil
}

func bounds(ranges []domain.MissingBlockRange) (froms, tos []int64) {
	froms = make([]int64, len(ranges))
	tos = make([]int64, len(ranges))
	for i, r := range ranges {
		froms[i] = r.FromNumber
		tos[i] = r.ToNumber
	}
	return froms, tos
}

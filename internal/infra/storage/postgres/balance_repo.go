package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/blockimport/internal/core/domain"
)

type balanceRow struct {
	Address         string         `db:"address_hash"`
	ContractAddress string         `db:"token_contract_address_hash"`
	TokenID         sql.NullString `db:"token_id"`
	BlockNumber     int64          `db:"block_number"`
	Value           sql.NullString `db:"value"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r balanceRow) toCurrent() (domain.CurrentTokenBalance, error) {
	tokenID, err := parseNumeric(r.TokenID)
	if err != nil {
		return domain.CurrentTokenBalance{}, err
	}
	value, err := parseNumeric(r.Value)
	if err != nil {
		return domain.CurrentTokenBalance{}, err
	}
	return domain.CurrentTokenBalance{
		Address:         r.Address,
		ContractAddress: r.ContractAddress,
		TokenID:         tokenID,
		BlockNumber:     r.BlockNumber,
		Value:           value,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// DeleteCurrentTokenBalances removes current balances computed at any of the heights.
func (u *UnitOfWork) DeleteCurrentTokenBalances(ctx context.Context, numbers []int64) ([]domain.CurrentTokenBalance, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	var rows []balanceRow
	err = tx.SelectContext(ctx, &rows, `
		DELETE FROM address_current_token_balances
		WHERE block_number = ANY($1::bigint[])
		RETURNING address_hash, token_contract_address_hash, token_id::text AS token_id,
			block_number, value::text AS value, updated_at`,
		pq.Array(numbers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete current token balances: %w", classify(err))
	}

	out := make([]domain.CurrentTokenBalance, 0, len(rows))
	for _, row := range rows {
		b, err := row.toCurrent()
		if err != nil {
			return nil, fmt.Errorf("failed to decode current token balance: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// LatestTokenBalanceBefore returns the newest historical snapshot strictly below before.
func (u *UnitOfWork) LatestTokenBalanceBefore(
	ctx context.Context,
	key domain.BalanceKey,
	before int64,
) (*domain.TokenBalance, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}

	var row balanceRow
	err = tx.GetContext(ctx, &row, `
		SELECT address_hash, token_contract_address_hash, token_id::text AS token_id,
			block_number, value::text AS value, updated_at
		FROM address_token_balances
		WHERE address_hash = $1
			AND token_contract_address_hash = $2
			AND token_id IS NOT DISTINCT FROM $3::numeric
			AND block_number < $4
		ORDER BY block_number DESC
		LIMIT 1`,
		key.Address, key.ContractAddress, numeric(key.TokenID), before,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %w", classify(err))
	}

	current, err := row.toCurrent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode token balance: %w", err)
	}
	return &domain.TokenBalance{
		Address:         current.Address,
		ContractAddress: current.ContractAddress,
		TokenID:         current.TokenID,
		BlockNumber:     current.BlockNumber,
		Value:           current.Value,
	}, nil
}

// UpsertCurrentTokenBalances writes current balances keyed by (address, contract, token_id).
func (u *UnitOfWork) UpsertCurrentTokenBalances(
	ctx context.Context,
	balances []domain.CurrentTokenBalance,
	now time.Time,
) error {
	tx, err := u.active()
	if err != nil {
		return err
	}
	if len(balances) == 0 {
		return nil
	}

	var (
		addresses = make([]string, len(balances))
		contracts = make([]string, len(balances))
		tokenIDs  = make([]sql.NullString, len(balances))
		numbers   = make([]int64, len(balances))
		values    = make([]sql.NullString, len(balances))
	)
	for i, b := range balances {
		addresses[i] = b.Address
		contracts[i] = b.ContractAddress
		tokenIDs[i] = numeric(b.TokenID)
		numbers[i] = b.BlockNumber
		values[i] = numeric(b.Value)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO address_current_token_balances
			(address_hash, token_contract_address_hash, token_id, block_number, value, inserted_at, updated_at)
		SELECT a, c, t, n, v, $6, $6
		FROM unnest($1::text[], $2::text[], $3::numeric[], $4::bigint[], $5::numeric[]) AS u(a, c, t, n, v)
		ON CONFLICT (address_hash, token_contract_address_hash, COALESCE(token_id, -1)) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		pq.Array(addresses), pq.Array(contracts), pq.Array(tokenIDs), pq.Array(numbers), pq.Array(values), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert current token balances: %w", classify(err))
	}
	return nil
}

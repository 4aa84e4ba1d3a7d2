package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/blockimport/internal/core/domain"
)

// AdjustHolderCounts adds the deltas to holder_count. Token rows are locked in contract order first
// so concurrent batches touching the same tokens queue instead of deadlocking.
func (u *UnitOfWork) AdjustHolderCounts(ctx context.Context, deltas map[string]int64, now time.Time) ([]domain.Token, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(deltas) == 0 {
		return nil, nil
	}

	contracts := slices.Sorted(maps.Keys(deltas))
	amounts := make([]int64, len(contracts))
	for i, c := range contracts {
		amounts[i] = deltas[c]
	}

	if _, err := tx.ExecContext(ctx, `
		SELECT 1 FROM tokens
		WHERE contract_address = ANY($1::text[])
		ORDER BY contract_address
		FOR UPDATE`,
		pq.Array(contracts),
	); err != nil {
		return nil, fmt.Errorf("failed to lock tokens: %w", classify(err))
	}

	var tokens []domain.Token
	err = tx.SelectContext(ctx, &tokens, `
		UPDATE tokens AS t
		SET holder_count = t.holder_count + d.delta, updated_at = $3
		FROM unnest($1::text[], $2::bigint[]) AS d(contract, delta)
		WHERE t.contract_address = d.contract
		RETURNING t.contract_address, t.type, t.holder_count, t.updated_at`,
		pq.Array(contracts), pq.Array(amounts), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust holder counts: %w", classify(err))
	}
	slices.SortFunc(tokens, func(a, b domain.Token) int {
		return cmp.Compare(a.ContractAddress, b.ContractAddress)
	})
	return tokens, nil
}

type instanceRow struct {
	ContractAddress string         `db:"token_contract_address_hash"`
	TokenID         string         `db:"token_id"`
	OwnerAddress    sql.NullString `db:"owner_address_hash"`
	OwnerBlock      int64          `db:"owner_updated_at_block"`
	OwnerLogIndex   int64          `db:"owner_updated_at_log_index"`
	Error           sql.NullString `db:"error"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// TokenInstancesOwnedAt returns owner-tracking instances whose owner pointer block is one of numbers.
func (u *UnitOfWork) TokenInstancesOwnedAt(ctx context.Context, numbers []int64) ([]domain.TokenInstance, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	var rows []instanceRow
	err = tx.SelectContext(ctx, &rows, `
		SELECT i.token_contract_address_hash, i.token_id::text AS token_id, i.owner_address_hash,
			i.owner_updated_at_block, i.owner_updated_at_log_index, i.error, i.updated_at
		FROM token_instances AS i
		JOIN tokens AS t ON t.contract_address = i.token_contract_address_hash
		WHERE t.type = ANY($2::text[]) AND i.owner_updated_at_block = ANY($1::bigint[])
		ORDER BY i.token_contract_address_hash, i.token_id
		FOR UPDATE OF i`,
		pq.Array(numbers), pq.Array(ownerTrackingTypes()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get token instances: %w", classify(err))
	}

	out := make([]domain.TokenInstance, 0, len(rows))
	for _, row := range rows {
		id, ok := new(big.Int).SetString(row.TokenID, 10)
		if !ok {
			return nil, fmt.Errorf("invalid token id %q", row.TokenID)
		}
		inst := domain.TokenInstance{
			ContractAddress:        row.ContractAddress,
			TokenID:                id,
			OwnerUpdatedAtBlock:    row.OwnerBlock,
			OwnerUpdatedAtLogIndex: row.OwnerLogIndex,
			UpdatedAt:              row.UpdatedAt,
		}
		if row.OwnerAddress.Valid {
			inst.OwnerAddress = &row.OwnerAddress.String
		}
		if row.Error.Valid {
			inst.Error = &row.Error.String
		}
		out = append(out, inst)
	}
	return out, nil
}

func ownerTrackingTypes() []string {
	var types []string
	for _, t := range []domain.TokenType{
		domain.TokenTypeERC20, domain.TokenTypeERC721, domain.TokenTypeERC1155, domain.TokenTypeERC404,
	} {
		if t.TracksInstanceOwner() {
			types = append(types, string(t))
		}
	}
	return types
}

const transferColumns = `tt.transaction_hash, tt.transaction_index, tt.block_hash, tt.block_number, tt.log_index,
	tt.token_contract_address_hash, tt.from_address_hash, tt.to_address_hash, tt.token_ids::text[] AS token_ids`

type transferRow struct {
	TransactionHash  string         `db:"transaction_hash"`
	TransactionIndex int            `db:"transaction_index"`
	BlockHash        string         `db:"block_hash"`
	BlockNumber      int64          `db:"block_number"`
	LogIndex         int            `db:"log_index"`
	ContractAddress  string         `db:"token_contract_address_hash"`
	FromAddress      string         `db:"from_address_hash"`
	ToAddress        string         `db:"to_address_hash"`
	TokenIDs         pq.StringArray `db:"token_ids"`
}

// transferOrder is the ORDER BY clause placing the latest transfer first under the variant.
func transferOrder(variant domain.ChainVariant) string {
	switch variant {
	case domain.ChainVariantNonUniqueLogIndex:
		return `tt.block_number DESC, tt.log_index DESC, tt.transaction_index DESC`
	default:
		return `tt.block_number DESC, tt.log_index DESC, tt.transaction_hash COLLATE "C" DESC`
	}
}

// LatestCanonicalTransfer returns the latest transfer of the token id sitting in a consensus block.
func (u *UnitOfWork) LatestCanonicalTransfer(
	ctx context.Context,
	contract string,
	tokenID *big.Int,
	variant domain.ChainVariant,
) (*domain.TokenTransfer, error) {
	return u.transfer(ctx, `
		SELECT `+transferColumns+`
		FROM token_transfers AS tt
		JOIN blocks AS b ON b.hash = tt.block_hash
		WHERE tt.token_contract_address_hash = $1
			AND tt.token_ids @> ARRAY[$2::numeric]
			AND b.consensus
		ORDER BY `+transferOrder(variant)+`
		LIMIT 1`,
		contract, numeric(tokenID),
	)
}

// TransferAt returns the transfer of the token id at (blockNumber, logIndex), canonical or not.
func (u *UnitOfWork) TransferAt(
	ctx context.Context,
	contract string,
	tokenID *big.Int,
	blockNumber int64,
	logIndex int64,
	variant domain.ChainVariant,
) (*domain.TokenTransfer, error) {
	return u.transfer(ctx, `
		SELECT `+transferColumns+`
		FROM token_transfers AS tt
		WHERE tt.token_contract_address_hash = $1
			AND tt.token_ids @> ARRAY[$2::numeric]
			AND tt.block_number = $3
			AND tt.log_index = $4
		ORDER BY `+transferOrder(variant)+`
		LIMIT 1`,
		contract, numeric(tokenID), blockNumber, logIndex,
	)
}

func (u *UnitOfWork) transfer(ctx context.Context, query string, args ...any) (*domain.TokenTransfer, error) {
	tx, err := u.active()
	if err != nil {
		return nil, err
	}

	var row transferRow
	err = tx.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token transfer: %w", classify(err))
	}

	ids := make([]*big.Int, 0, len(row.TokenIDs))
	for _, s := range row.TokenIDs {
		id, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid token id %q", s)
		}
		ids = append(ids, id)
	}
	return &domain.TokenTransfer{
		TransactionHash:  row.TransactionHash,
		TransactionIndex: row.TransactionIndex,
		BlockHash:        row.BlockHash,
		BlockNumber:      row.BlockNumber,
		LogIndex:         row.LogIndex,
		ContractAddress:  row.ContractAddress,
		FromAddress:      row.FromAddress,
		ToAddress:        row.ToAddress,
		TokenIDs:         ids,
	}, nil
}

// UpdateTokenInstanceOwners rewrites owner and owner pointer columns.
func (u *UnitOfWork) UpdateTokenInstanceOwners(ctx context.Context, instances []domain.TokenInstance, now time.Time) error {
	tx, err := u.active()
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return nil
	}

	var (
		contracts = make([]string, len(instances))
		tokenIDs  = make([]sql.NullString, len(instances))
		owners    = make([]sql.NullString, len(instances))
		blocks    = make([]int64, len(instances))
		logs      = make([]int64, len(instances))
	)
	for i, inst := range instances {
		contracts[i] = inst.ContractAddress
		tokenIDs[i] = numeric(inst.TokenID)
		if inst.OwnerAddress != nil {
			owners[i] = sql.NullString{String: *inst.OwnerAddress, Valid: true}
		}
		blocks[i] = inst.OwnerUpdatedAtBlock
		logs[i] = inst.OwnerUpdatedAtLogIndex
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE token_instances AS i
		SET owner_address_hash = u.owner,
			owner_updated_at_block = u.blk,
			owner_updated_at_log_index = u.li,
			updated_at = $6
		FROM unnest($1::text[], $2::numeric[], $3::text[], $4::bigint[], $5::bigint[])
			AS u(contract, token_id, owner, blk, li)
		WHERE i.token_contract_address_hash = u.contract AND i.token_id = u.token_id`,
		pq.Array(contracts), pq.Array(tokenIDs), pq.Array(owners), pq.Array(blocks), pq.Array(logs), now,
	)
	if err != nil {
		return fmt.Errorf("failed to update token instance owners: %w", classify(err))
	}
	return nil
}

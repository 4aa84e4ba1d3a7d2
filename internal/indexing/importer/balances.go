package importer

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

// InvalidateBalances deletes current token balances at every height where a block
// gained or re-asserted canonical status in this batch, and returns the deleted rows.
// Blocks written as non-canonical delete nothing.
func InvalidateBalances(
	ctx context.Context,
	repo storage.BalanceRepository,
	blocks []domain.BlockChange,
) ([]domain.CurrentTokenBalance, error) {
	heights := make(map[int64]struct{})
	for _, b := range blocks {
		if b.Consensus {
			heights[b.Number] = struct{}{}
		}
	}
	if len(heights) == 0 {
		return nil, nil
	}

	deleted, err := repo.DeleteCurrentTokenBalances(ctx, slices.Sorted(maps.Keys(heights)))
	if err != nil {
		return nil, fmt.Errorf("failed to delete current token balances: %w", err)
	}
	return deleted, nil
}

// HolderStore is the storage needed to recount holders.
type HolderStore interface {
	storage.BalanceRepository
	storage.TokenRepository
}

// HolderResult holds the rows written while recounting holders.
type HolderResult struct {
	Tokens   []domain.Token
	Restored []domain.CurrentTokenBalance
}

// UpdateHolderCounts restores every deleted balance from the latest earlier snapshot and
// adjusts holder counts by the net change per token contract.
// Contracts whose gains and losses cancel out are not written.
func UpdateHolderCounts(
	ctx context.Context,
	repo HolderStore,
	deleted []domain.CurrentTokenBalance,
	now time.Time,
) (*HolderResult, error) {
	if len(deleted) == 0 {
		return &HolderResult{}, nil
	}

	var restored []domain.CurrentTokenBalance
	deltas := make(map[string]int64)
	for _, d := range deleted {
		previous, err := repo.LatestTokenBalanceBefore(ctx, d.Key(), d.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to load balance history for %s: %w", d.Key(), err)
		}

		isHolder := false
		if previous != nil {
			isHolder = domain.IsPositive(previous.Value)
			restored = append(restored, domain.CurrentTokenBalance{
				Address:         previous.Address,
				ContractAddress: previous.ContractAddress,
				TokenID:         previous.TokenID,
				BlockNumber:     previous.BlockNumber,
				Value:           previous.Value,
			})
		}

		switch wasHolder := d.IsHolder(); {
		case !wasHolder && isHolder:
			deltas[d.ContractAddress]++
		case wasHolder && !isHolder:
			deltas[d.ContractAddress]--
		}
	}

	if len(restored) > 0 {
		if err := repo.UpsertCurrentTokenBalances(ctx, restored, now); err != nil {
			return nil, fmt.Errorf("failed to restore current token balances: %w", err)
		}
		for i := range restored {
			restored[i].UpdatedAt = now
		}
	}

	maps.DeleteFunc(deltas, func(_ string, delta int64) bool { return delta == 0 })
	if len(deltas) == 0 {
		return &HolderResult{Restored: restored}, nil
	}

	tokens, err := repo.AdjustHolderCounts(ctx, deltas, now)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust holder counts: %w", err)
	}
	return &HolderResult{Tokens: tokens, Restored: restored}, nil
}

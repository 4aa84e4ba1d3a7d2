package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testBlock(hash string, number int64, consensus bool) domain.Block {
	return domain.Block{Hash: hash, Number: number, ParentHash: "0x00", Consensus: consensus, Timestamp: now}
}

func TestMemoryStorage_CommitPublishesRollbackDiscards(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertBlocks(ctx, []domain.Block{testBlock("0x01", 1, true)}, now)
	require.NoError(t, err)

	_, ok := m.Block("0x01")
	assert.False(t, ok, "uncommitted rows must not be visible")
	require.NoError(t, tx.Rollback())
	_, ok = m.Block("0x01")
	assert.False(t, ok)

	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.UpsertBlocks(ctx, []domain.Block{testBlock("0x01", 1, true)}, now)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	_, ok = m.Block("0x01")
	assert.True(t, ok)

	assert.ErrorIs(t, tx.Commit(), storage.ErrTxDone)
	assert.NoError(t, tx.Rollback())
	_, err = tx.UpsertBlocks(ctx, nil, now)
	assert.ErrorIs(t, err, storage.ErrTxDone)
}

func TestMemoryStorage_OneCanonicalBlockPerHeight(t *testing.T) {
	m := NewMemoryStorage()
	m.PutBlocks(testBlock("0x01", 1, true))
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.UpsertBlocks(ctx, []domain.Block{testBlock("0x02", 1, true)}, now)
	assert.ErrorIs(t, err, storage.ErrConstraint)

	changes, err := tx.UpsertBlocks(ctx, []domain.Block{testBlock("0x02", 1, false)}, now)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Inserted)

	changes, err = tx.UpsertBlocks(ctx, []domain.Block{testBlock("0x02", 1, false)}, now)
	require.NoError(t, err)
	assert.Empty(t, changes, "identical rows are not rewritten")
}

func TestMemoryStorage_ForeignKeys(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.UpsertTransactions(ctx, []domain.Transaction{{
		Hash:        "0xf1",
		BlockHash:   domain.Ptr("0x99"),
		BlockNumber: domain.Ptr(int64(9)),
		Index:       domain.Ptr(0),
	}}, now)
	assert.ErrorIs(t, err, storage.ErrConstraint)

	_, err = tx.InsertPendingBlockOperations(ctx, []domain.PendingBlockOperation{{BlockHash: "0x99", BlockNumber: 9}}, now)
	assert.ErrorIs(t, err, storage.ErrConstraint)

	_, err = tx.UpsertTransactionForks(ctx, []domain.TransactionFork{{UncleHash: "0x99", TransactionHash: "0xf1"}}, now)
	assert.ErrorIs(t, err, storage.ErrConstraint)
}

func TestMemoryStorage_CanceledContext(t *testing.T) {
	m := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	cancel()
	_, err = tx.CanonicalBlocksByNumbers(ctx, []int64{1})
	assert.ErrorIs(t, err, storage.ErrTransient)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = m.Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStorage_FailOn(t *testing.T) {
	m := NewMemoryStorage()
	boom := errors.New("boom")
	m.FailOn("LoseConsensus", boom)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.LoseConsensus(ctx, []string{"0x01"}, now)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, tx.Rollback())

	m.FailOn("LoseConsensus", nil)
	tx, err = m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.LoseConsensus(ctx, []string{"0x01"}, now)
	assert.NoError(t, err)
}

func TestMemoryStorage_NearestCanonical(t *testing.T) {
	m := NewMemoryStorage()
	m.PutBlocks(testBlock("0x01", 1, true), testBlock("0x05", 5, true), testBlock("0x06", 6, false), testBlock("0x09", 9, true))
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	below, err := tx.NearestCanonicalBelow(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(5), below.Number)

	above, err := tx.NearestCanonicalAbove(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(9), above.Number)

	none, err := tx.NearestCanonicalBelow(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryStorage_MissingRangesNearIncludesTouching(t *testing.T) {
	m := NewMemoryStorage()
	m.PutMissingRanges(
		domain.MissingBlockRange{FromNumber: 1, ToNumber: 3},
		domain.MissingBlockRange{FromNumber: 10, ToNumber: 12},
		domain.MissingBlockRange{FromNumber: 20, ToNumber: 30},
	)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := tx.MissingRangesNear(ctx, 4, 9)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].FromNumber)
	assert.Equal(t, int64(10), got[1].FromNumber)
}

func TestMemoryStorage_LatestTokenBalanceBefore(t *testing.T) {
	m := NewMemoryStorage()
	key := domain.BalanceKey{Address: "0xa1", ContractAddress: "0xc1", TokenID: big.NewInt(3)}
	m.PutTokenBalances(
		domain.TokenBalance{Address: "0xa1", ContractAddress: "0xc1", TokenID: big.NewInt(3), BlockNumber: 5, Value: big.NewInt(1)},
		domain.TokenBalance{Address: "0xa1", ContractAddress: "0xc1", TokenID: big.NewInt(3), BlockNumber: 8, Value: big.NewInt(2)},
		domain.TokenBalance{Address: "0xa1", ContractAddress: "0xc1", TokenID: big.NewInt(4), BlockNumber: 9, Value: big.NewInt(3)},
		domain.TokenBalance{Address: "0xa1", ContractAddress: "0xc1", TokenID: big.NewInt(3), BlockNumber: 10, Value: big.NewInt(4)},
	)
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := tx.LatestTokenBalanceBefore(ctx, key, 10)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(8), got.BlockNumber)

	got, err = tx.LatestTokenBalanceBefore(ctx, key, 5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

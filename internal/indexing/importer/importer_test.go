package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
	"github.com/vietddude/blockimport/internal/infra/storage/memory"
)

func TestImport_CanonicalChain(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)

	result := mustImport(t, im, t0, domain.Batch{Blocks: chain("aa", 1, 5)})

	assert.NotEmpty(t, result.BatchID)
	assert.Len(t, result.Blocks, 5)
	for _, b := range result.Blocks {
		assert.True(t, b.Inserted)
		assert.Equal(t, t0, b.InsertedAt)
	}
	assert.Empty(t, result.LostConsensus)
	assert.Len(t, result.PendingOperations, 5)
	assert.Zero(t, result.MissingRanges.Len())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, numbers(store.CanonicalBlocks()))
}

func TestImport_ReplayIsEmpty(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)

	b := chain("aa", 9, 11)
	tx := placedTx("0xf1", b[1], 0)
	batch := domain.Batch{Blocks: b, Transactions: []domain.Transaction{tx}}

	first := mustImport(t, im, t0, batch)
	require.False(t, first.Empty())

	second := mustImport(t, im, t1, batch)
	assert.True(t, second.Empty(), "replay changed %v", second.Counts())

	stored, ok := store.Block(b[0].Hash)
	require.True(t, ok)
	assert.Equal(t, t0, stored.UpdatedAt)
}

func TestImport_ReorgAndResubmit(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)

	original := chain("aa", 9, 11)
	b := original[1]
	tx := placedTx("0xf1", b, 0)
	mustImport(t, im, t0, domain.Batch{Blocks: original, Transactions: []domain.Transaction{tx}})

	// A competing block at height 10.
	competitor := block("bb", 10, "aa", true)
	result := mustImport(t, im, t1, domain.Batch{Blocks: []domain.Block{competitor}})

	assert.Equal(t, []domain.LostConsensus{{Number: 10, Hash: b.Hash}}, result.LostConsensus)
	require.Len(t, result.Forks, 1)
	assert.Equal(t, b.Hash, result.Forks[0].UncleHash)
	assert.Equal(t, 0, result.Forks[0].Index)
	assert.Equal(t, tx.Hash, result.Forks[0].TransactionHash)
	require.Len(t, result.UnplacedTransactions, 1)
	assert.Len(t, result.PendingOperations, 1)

	displaced, _ := store.Block(b.Hash)
	assert.False(t, displaced.Consensus)
	stored, _ := store.Transaction(tx.Hash)
	assert.Nil(t, stored.BlockHash)
	assert.Nil(t, stored.BlockNumber)
	assert.Nil(t, stored.Index)

	// Block 11 still points at the displaced block.
	assert.Equal(t, [][2]int64{{10, 10}}, spans(store.MissingRanges()))
	requireOneCanonicalPerHeight(t, store)

	// Replaying the same reorg writes nothing.
	replay := mustImport(t, im, t2, domain.Batch{Blocks: []domain.Block{competitor}})
	assert.True(t, replay.Empty())
	assert.Equal(t, 1, store.ForkWrites(b.Hash, 0))

	// Resubmitting the original block restores placement without new forks.
	resubmit := mustImport(t, im, t2, domain.Batch{Blocks: []domain.Block{b}, Transactions: []domain.Transaction{tx}})

	assert.Equal(t, []domain.LostConsensus{{Number: 10, Hash: competitor.Hash}}, resubmit.LostConsensus)
	assert.Empty(t, resubmit.Forks)
	require.Len(t, resubmit.Transactions, 1)
	assert.Empty(t, resubmit.PendingOperations, "updated blocks are not scheduled")

	stored, _ = store.Transaction(tx.Hash)
	require.NotNil(t, stored.BlockHash)
	assert.Equal(t, b.Hash, *stored.BlockHash)
	assert.Len(t, store.Forks(), 1)
	assert.Equal(t, 1, store.ForkWrites(b.Hash, 0))

	assert.Len(t, resubmit.MissingRanges.Deleted, 1)
	assert.Empty(t, store.MissingRanges())
	requireOneCanonicalPerHeight(t, store)
}

func TestImport_NonCanonicalNeverEvicts(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)
	mustImport(t, im, t0, domain.Batch{Blocks: chain("aa", 9, 11)})

	observed := block("bb", 10, "aa", false)
	result := mustImport(t, im, t1, domain.Batch{Blocks: []domain.Block{observed}})

	assert.Empty(t, result.LostConsensus)
	require.Len(t, result.Blocks, 1)
	assert.True(t, result.Blocks[0].Inserted)
	assert.Empty(t, result.PendingOperations)

	canonical, _ := store.Block(hash("aa", 10))
	assert.True(t, canonical.Consensus)
}

func TestImport_DemotedBySameHash(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.PutBlocks(block("aa", 3, "aa", true), block("aa", 6, "aa", true), block("aa", 10, "aa", true))
	store.PutMissingRanges(
		domain.MissingBlockRange{FromNumber: 4, ToNumber: 5},
		domain.MissingBlockRange{FromNumber: 7, ToNumber: 9},
	)
	im := newTestImporter(store)

	result := mustImport(t, im, t1, domain.Batch{Blocks: []domain.Block{block("aa", 6, "aa", false)}})

	assert.Equal(t, []domain.LostConsensus{{Number: 6, Hash: hash("aa", 6)}}, result.LostConsensus)
	assert.Empty(t, result.Blocks)
	assert.Empty(t, result.DeletedBalances)
	assert.Len(t, result.MissingRanges.Updated, 1)
	assert.Len(t, result.MissingRanges.Deleted, 1)
	assert.Equal(t, [][2]int64{{4, 9}}, spans(store.MissingRanges()))
}

func TestImport_BalanceInvalidationPolarity(t *testing.T) {
	store := memory.NewMemoryStorage()
	contract := addr(50)
	store.PutCurrentTokenBalances(
		domain.CurrentTokenBalance{Address: addr(5), ContractAddress: contract, BlockNumber: 10, Value: id(10)},
		domain.CurrentTokenBalance{Address: addr(5), ContractAddress: addr(51), BlockNumber: 20, Value: id(10)},
	)
	im := newTestImporter(store)

	canonical := mustImport(t, im, t0, domain.Batch{Blocks: []domain.Block{block("aa", 10, "aa", true)}})
	require.Len(t, canonical.DeletedBalances, 1)
	assert.Equal(t, int64(10), canonical.DeletedBalances[0].BlockNumber)

	nonCanonical := mustImport(t, im, t1, domain.Batch{Blocks: []domain.Block{block("bb", 20, "aa", false)}})
	assert.Empty(t, nonCanonical.DeletedBalances)
	_, ok := store.CurrentTokenBalance(domain.BalanceKey{Address: addr(5), ContractAddress: addr(51)})
	assert.True(t, ok)
}

func TestImport_HolderCountCancellation(t *testing.T) {
	store := memory.NewMemoryStorage()
	contract := addr(50)
	store.PutTokens(domain.Token{ContractAddress: contract, Type: domain.TokenTypeERC20, HolderCount: 5})
	store.PutCurrentTokenBalances(
		domain.CurrentTokenBalance{Address: addr(10), ContractAddress: contract, BlockNumber: 10, Value: id(100)},
		domain.CurrentTokenBalance{Address: addr(11), ContractAddress: contract, BlockNumber: 10, Value: id(0)},
	)
	store.PutTokenBalances(
		domain.TokenBalance{Address: addr(10), ContractAddress: contract, BlockNumber: 8, Value: id(0)},
		domain.TokenBalance{Address: addr(11), ContractAddress: contract, BlockNumber: 9, Value: id(50)},
		domain.TokenBalance{Address: addr(11), ContractAddress: contract, BlockNumber: 10, Value: id(0)},
	)
	im := newTestImporter(store)

	result := mustImport(t, im, t0, domain.Batch{Blocks: []domain.Block{block("aa", 10, "aa", true)}})

	assert.Len(t, result.DeletedBalances, 2)
	assert.Len(t, result.RestoredBalances, 2)
	assert.Empty(t, result.Tokens, "a gained and a lost holder cancel out")

	token, _ := store.Token(contract)
	assert.Equal(t, int64(5), token.HolderCount)

	restored, ok := store.CurrentTokenBalance(domain.BalanceKey{Address: addr(11), ContractAddress: contract})
	require.True(t, ok)
	assert.Equal(t, int64(9), restored.BlockNumber)
	assert.Equal(t, 0, restored.Value.Cmp(id(50)))
}

func TestImport_HolderCountNetChange(t *testing.T) {
	store := memory.NewMemoryStorage()
	contract := addr(50)
	store.PutTokens(domain.Token{ContractAddress: contract, Type: domain.TokenTypeERC20, HolderCount: 5})
	store.PutCurrentTokenBalances(
		domain.CurrentTokenBalance{Address: addr(10), ContractAddress: contract, BlockNumber: 10, Value: id(100)},
		domain.CurrentTokenBalance{Address: addr(12), ContractAddress: contract, BlockNumber: 10, Value: id(0)},
	)
	im := newTestImporter(store)

	result := mustImport(t, im, t0, domain.Batch{Blocks: []domain.Block{block("aa", 10, "aa", true)}})

	assert.Empty(t, result.RestoredBalances)
	require.Len(t, result.Tokens, 1)
	assert.Equal(t, int64(4), result.Tokens[0].HolderCount)

	token, _ := store.Token(contract)
	assert.Equal(t, int64(4), token.HolderCount)
}

func TestImport_RollsBackOnConstraintViolation(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)
	mustImport(t, im, t0, domain.Batch{Blocks: chain("aa", 1, 2)})

	next := block("aa", 3, "aa", true)
	orphanTx := placedTx("0xf1", block("cc", 3, "aa", true), 0)
	_, err := im.ImportAt(context.Background(), domain.Batch{
		Blocks:       []domain.Block{next},
		Transactions: []domain.Transaction{orphanTx},
	}, t1)

	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrConstraint)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, StateTransactionsCollated, FailedState(err))

	_, ok := store.Block(next.Hash)
	assert.False(t, ok, "aborted batch must not leave blocks behind")
	assert.Len(t, store.PendingOperations(), 2)
}

func TestImport_TransientFailureThenRetry(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)
	batch := domain.Batch{Blocks: chain("aa", 1, 3)}

	store.FailOn("InsertPendingBlockOperations", fmt.Errorf("%w: deadlock detected", storage.ErrTransient))
	_, err := im.ImportAt(context.Background(), batch, t0)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, StatePendingOpsScheduled, FailedState(err))
	assert.Empty(t, store.CanonicalBlocks())

	store.FailOn("InsertPendingBlockOperations", nil)
	result := mustImport(t, im, t1, batch)
	assert.Len(t, result.Blocks, 3)
	assert.Len(t, result.PendingOperations, 3)
}

func TestImport_Timeout(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := New(slowStore{store}, Config{Chain: "test", Timeout: 20 * time.Millisecond})

	_, err := im.ImportAt(context.Background(), domain.Batch{Blocks: chain("aa", 1, 2)}, t0)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, StateUpserted, FailedState(err))

	// The store is usable again after the rollback.
	result := mustImport(t, newTestImporter(store), t1, domain.Batch{Blocks: chain("aa", 1, 2)})
	assert.Len(t, result.Blocks, 2)
}

func TestImport_ValidationRejectsBeforeStorage(t *testing.T) {
	store := memory.NewMemoryStorage()
	store.FailOn("CanonicalBlocksByNumbers", errors.New("storage must not be touched"))
	im := newTestImporter(store)

	tests := []struct {
		name  string
		batch domain.Batch
	}{
		{"empty", domain.Batch{}},
		{"two canonical hashes at one height", domain.Batch{Blocks: []domain.Block{
			block("aa", 5, "aa", true),
			block("bb", 5, "aa", true),
		}}},
		{"bad hash", domain.Batch{Blocks: []domain.Block{{Hash: "nothex", Number: 1, ParentHash: hash("aa", 0), Timestamp: t0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := im.ImportAt(context.Background(), tt.batch, t0)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidBatch)
			assert.Equal(t, StateReceived, FailedState(err))
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestImport_DeduplicatesLastOccurrenceWins(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)

	result := mustImport(t, im, t0, domain.Batch{Blocks: []domain.Block{
		block("aa", 5, "aa", false),
		block("aa", 5, "aa", true),
	}})

	require.Len(t, result.Blocks, 1)
	assert.True(t, result.Blocks[0].Consensus)
	stored, _ := store.Block(hash("aa", 5))
	assert.True(t, stored.Consensus)
}

func TestImport_NotifiesAfterCommit(t *testing.T) {
	store := memory.NewMemoryStorage()
	notifier := &recordingNotifier{err: errors.New("redis unavailable")}
	im := newTestImporter(store, WithNotifier(notifier))

	result := mustImport(t, im, t0, domain.Batch{Blocks: chain("aa", 1, 2)})
	require.Len(t, notifier.results, 1)
	assert.Equal(t, result.BatchID, notifier.results[0].BatchID)

	store.FailOn("UpsertBlocks", fmt.Errorf("%w: connection reset", storage.ErrTransient))
	_, err := im.ImportAt(context.Background(), domain.Batch{Blocks: chain("aa", 3, 4)}, t1)
	require.Error(t, err)
	assert.Len(t, notifier.results, 1, "aborted batches are not notified")
}

func TestImport_ConcurrentCompetingBatches(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		branch := "aa"
		if i%2 == 1 {
			branch = "bb"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := im.ImportAt(context.Background(), domain.Batch{Blocks: chain(branch, 1, 5)}, t0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	requireOneCanonicalPerHeight(t, store)
	assert.Len(t, store.CanonicalBlocks(), 5)
	assert.Empty(t, store.MissingRanges())
}

func TestResult_CountsAndByState(t *testing.T) {
	r := &Result{
		Blocks:        []domain.BlockChange{{}, {}},
		MissingRanges: RangeChanges{Inserted: []domain.MissingBlockRange{{}}},
	}

	counts := r.Counts()
	assert.Equal(t, 2, counts[StateUpserted])
	assert.Equal(t, 1, counts[StateRangesUpdated])
	assert.False(t, r.Empty())
	assert.Len(t, r.ByState(), 9)
	assert.True(t, (&Result{}).Empty())
}

func TestImport_CompetingBlockDropsPendingMarker(t *testing.T) {
	store := memory.NewMemoryStorage()
	im := newTestImporter(store)
	mustImport(t, im, t0, domain.Batch{Blocks: chain("aa", 9, 11)})

	result := mustImport(t, im, t1, domain.Batch{Blocks: []domain.Block{block("bb", 10, "aa", true)}})

	require.Len(t, result.DeletedPendingOperations, 1)
	assert.Equal(t, hash("aa", 10), result.DeletedPendingOperations[0].BlockHash)
	require.Len(t, result.PendingOperations, 1)
	assert.Equal(t, hash("bb", 10), result.PendingOperations[0].BlockHash)

	var marked []string
	for _, op := range store.PendingOperations() {
		marked = append(marked, op.BlockHash)
	}
	assert.ElementsMatch(t, []string{hash("aa", 9), hash("bb", 10), hash("aa", 11)}, marked)
}

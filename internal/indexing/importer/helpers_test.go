package importer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
	"github.com/vietddude/blockimport/internal/infra/storage/memory"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

// hash builds a hex hash such as 0xaa0000000a for branch "aa" at height 10.
func hash(branch string, n int64) string {
	return fmt.Sprintf("0x%s%08x", branch, n)
}

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func block(branch string, n int64, parentBranch string, consensus bool) domain.Block {
	b := domain.Block{
		Hash:      hash(branch, n),
		Number:    n,
		MinerHash: addr(1),
		Consensus: consensus,
		Timestamp: t0.Add(time.Duration(n) * time.Second),
	}
	if n > 0 {
		b.ParentHash = hash(parentBranch, n-1)
	}
	return b
}

// chain builds canonical blocks from..to on one branch, each linked to its predecessor.
func chain(branch string, from, to int64) []domain.Block {
	var blocks []domain.Block
	for n := from; n <= to; n++ {
		blocks = append(blocks, block(branch, n, branch, true))
	}
	return blocks
}

func placedTx(h string, b domain.Block, index int) domain.Transaction {
	return domain.Transaction{
		Hash:        h,
		BlockHash:   domain.Ptr(b.Hash),
		BlockNumber: domain.Ptr(b.Number),
		Index:       domain.Ptr(index),
		FromAddress: addr(2),
		ToAddress:   domain.Ptr(addr(3)),
	}
}

func numbers(blocks []domain.Block) []int64 {
	out := make([]int64, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.Number)
	}
	return out
}

func spans(rs []domain.MissingBlockRange) [][2]int64 {
	out := make([][2]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, [2]int64{r.FromNumber, r.ToNumber})
	}
	return out
}

func newTestImporter(store storage.Store, opts ...Option) *Importer {
	return New(store, Config{Chain: "test", Variant: domain.ChainVariantDefault}, opts...)
}

func mustImport(t *testing.T, im *Importer, now time.Time, batch domain.Batch) *Result {
	t.Helper()
	result, err := im.ImportAt(context.Background(), batch, now)
	require.NoError(t, err)
	return result
}

// inTx runs fn in a committed memory transaction.
func inTx(t *testing.T, store *memory.MemoryStorage, fn func(tx storage.Tx)) {
	t.Helper()
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func requireOneCanonicalPerHeight(t *testing.T, store *memory.MemoryStorage) {
	t.Helper()
	seen := make(map[int64]string)
	for _, b := range store.CanonicalBlocks() {
		other, dup := seen[b.Number]
		require.False(t, dup, "height %d has canonical blocks %s and %s", b.Number, other, b.Hash)
		seen[b.Number] = b.Hash
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []*Result
	err     error
}

func (n *recordingNotifier) Notify(ctx context.Context, result *Result) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
	return n.err
}

// slowStore makes UpsertBlocks wait for the context to end.
type slowStore struct {
	*memory.MemoryStorage
}

func (s slowStore) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.MemoryStorage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return slowTx{Tx: tx}, nil
}

type slowTx struct {
	storage.Tx
}

func (t slowTx) UpsertBlocks(ctx context.Context, blocks []domain.Block, now time.Time) ([]domain.BlockChange, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", storage.ErrTransient, ctx.Err())
}

func id(n int64) *big.Int {
	return big.NewInt(n)
}

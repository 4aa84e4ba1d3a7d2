package memory

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage"
)

type forkKey struct {
	uncleHash string
	index     int
}

type state struct {
	blocks        map[string]domain.Block
	txs           map[string]domain.Transaction
	forks         map[forkKey]domain.TransactionFork
	forkVersions  map[forkKey]int
	current       map[string]domain.CurrentTokenBalance
	history       []domain.TokenBalance
	tokens        map[string]domain.Token
	transfers     []domain.TokenTransfer
	instances     map[string]domain.TokenInstance
	missing       map[int64]domain.MissingBlockRange
	nextMissingID int64
	pending       map[string]domain.PendingBlockOperation
}

func newState() *state {
	return &state{
		blocks:        make(map[string]domain.Block),
		txs:           make(map[string]domain.Transaction),
		forks:         make(map[forkKey]domain.TransactionFork),
		forkVersions:  make(map[forkKey]int),
		current:       make(map[string]domain.CurrentTokenBalance),
		tokens:        make(map[string]domain.Token),
		instances:     make(map[string]domain.TokenInstance),
		missing:       make(map[int64]domain.MissingBlockRange),
		nextMissingID: 1,
		pending:       make(map[string]domain.PendingBlockOperation),
	}
}

// Row values are replaced, never mutated in place, so a shallow copy of every map is a snapshot.
func (s *state) clone() *state {
	return &state{
		blocks:        maps.Clone(s.blocks),
		txs:           maps.Clone(s.txs),
		forks:         maps.Clone(s.forks),
		forkVersions:  maps.Clone(s.forkVersions),
		current:       maps.Clone(s.current),
		history:       slices.Clone(s.history),
		tokens:        maps.Clone(s.tokens),
		transfers:     slices.Clone(s.transfers),
		instances:     maps.Clone(s.instances),
		missing:       maps.Clone(s.missing),
		nextMissingID: s.nextMissingID,
		pending:       maps.Clone(s.pending),
	}
}

// MemoryStorage is an in-process implementation of storage.Store.
// Transactions are serialized and work on a private snapshot until Commit.
type MemoryStorage struct {
	txMu sync.Mutex // held for the lifetime of a transaction
	mu   sync.RWMutex
	data *state

	faultMu sync.Mutex
	faults  map[string]error
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data:   newState(),
		faults: make(map[string]error),
	}
}

var _ storage.Store = (*MemoryStorage)(nil)

// Begin starts a transaction. It blocks while another transaction is open.
func (m *MemoryStorage) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTransient, err)
	}
	m.txMu.Lock()
	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()
	return &Tx{store: m, data: snapshot}, nil
}

// FailOn makes the named Tx operation return err until cleared with a nil err.
func (m *MemoryStorage) FailOn(operation string, err error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	if err == nil {
		delete(m.faults, operation)
		return
	}
	m.faults[operation] = err
}

func (m *MemoryStorage) fault(operation string) error {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	return m.faults[operation]
}

// -----------------------------------------------------------------------------
// Transaction
// -----------------------------------------------------------------------------

// Tx is a transaction over a snapshot of MemoryStorage.
type Tx struct {
	store *MemoryStorage
	data  *state
	done  bool
}

var _ storage.Tx = (*Tx)(nil)

// Commit publishes the snapshot.
func (t *Tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	t.store.mu.Lock()
	t.store.data = t.data
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

// Rollback discards the snapshot. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.data = nil
	t.store.txMu.Unlock()
	return nil
}

func (t *Tx) check(ctx context.Context, operation string) error {
	if t.done {
		return storage.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransient, err)
	}
	if err := t.store.fault(operation); err != nil {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Blocks
// -----------------------------------------------------------------------------

// LockHeights is a no-op: memory transactions already run one at a time.
func (t *Tx) LockHeights(ctx context.Context, numbers []int64) error {
	return t.check(ctx, "LockHeights")
}

func (t *Tx) CanonicalBlocksByNumbers(ctx context.Context, numbers []int64) ([]domain.Block, error) {
	if err := t.check(ctx, "CanonicalBlocksByNumbers"); err != nil {
		return nil, err
	}
	wanted := toSet(numbers)
	var out []domain.Block
	for _, b := range t.data.blocks {
		if b.Consensus && wanted[b.Number] {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (t *Tx) LoseConsensus(ctx context.Context, hashes []string, now time.Time) ([]domain.LostConsensus, error) {
	if err := t.check(ctx, "LoseConsensus"); err != nil {
		return nil, err
	}
	var out []domain.LostConsensus
	for _, hash := range hashes {
		b, ok := t.data.blocks[hash]
		if !ok || !b.Consensus {
			continue
		}
		b.Consensus = false
		b.UpdatedAt = now
		t.data.blocks[hash] = b
		out = append(out, domain.LostConsensus{Number: b.Number, Hash: b.Hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (t *Tx) UpsertBlocks(ctx context.Context, blocks []domain.Block, now time.Time) ([]domain.BlockChange, error) {
	if err := t.check(ctx, "UpsertBlocks"); err != nil {
		return nil, err
	}
	var out []domain.BlockChange
	for _, b := range blocks {
		existing, ok := t.data.blocks[b.Hash]
		if ok && existing.SameContent(b) {
			continue
		}
		if b.Consensus {
			for _, other := range t.data.blocks {
				if other.Consensus && other.Number == b.Number && other.Hash != b.Hash {
					return nil, fmt.Errorf("%w: blocks_consensus_number_index: %d already has consensus block %s",
						storage.ErrConstraint, b.Number, other.Hash)
				}
			}
		}
		b.UpdatedAt = now
		if ok {
			b.InsertedAt = existing.InsertedAt
		} else {
			b.InsertedAt = now
		}
		t.data.blocks[b.Hash] = b
		out = append(out, domain.BlockChange{Block: b, Inserted: !ok})
	}
	return out, nil
}

func (t *Tx) NearestCanonicalBelow(ctx context.Context, n int64) (*domain.Block, error) {
	if err := t.check(ctx, "NearestCanonicalBelow"); err != nil {
		return nil, err
	}
	var best *domain.Block
	for _, b := range t.data.blocks {
		if b.Consensus && b.Number < n && (best == nil || b.Number > best.Number) {
			b := b
			best = &b
		}
	}
	return best, nil
}

func (t *Tx) NearestCanonicalAbove(ctx context.Context, n int64) (*domain.Block, error) {
	if err := t.check(ctx, "NearestCanonicalAbove"); err != nil {
		return nil, err
	}
	var best *domain.Block
	for _, b := range t.data.blocks {
		if b.Consensus && b.Number > n && (best == nil || b.Number < best.Number) {
			b := b
			best = &b
		}
	}
	return best, nil
}

// -----------------------------------------------------------------------------
// Transactions and forks
// -----------------------------------------------------------------------------

func (t *Tx) TransactionsByBlockHashes(ctx context.Context, blockHashes []string) ([]domain.Transaction, error) {
	if err := t.check(ctx, "TransactionsByBlockHashes"); err != nil {
		return nil, err
	}
	wanted := toSet(blockHashes)
	var out []domain.Transaction
	for _, tx := range t.data.txs {
		if tx.BlockHash != nil && wanted[*tx.BlockHash] {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].BlockHash != *out[j].BlockHash {
			return *out[i].BlockHash < *out[j].BlockHash
		}
		return *out[i].Index < *out[j].Index
	})
	return out, nil
}

func (t *Tx) UnplaceTransactions(ctx context.Context, hashes []string, now time.Time) ([]domain.Transaction, error) {
	if err := t.check(ctx, "UnplaceTransactions"); err != nil {
		return nil, err
	}
	var out []domain.Transaction
	for _, hash := range hashes {
		tx, ok := t.data.txs[hash]
		if !ok || !tx.Placed() {
			continue
		}
		tx.BlockHash, tx.BlockNumber, tx.Index = nil, nil, nil
		tx.UpdatedAt = now
		t.data.txs[hash] = tx
		out = append(out, tx)
	}
	return out, nil
}

func (t *Tx) UpsertTransactions(ctx context.Context, txs []domain.Transaction, now time.Time) ([]domain.Transaction, error) {
	if err := t.check(ctx, "UpsertTransactions"); err != nil {
		return nil, err
	}
	var out []domain.Transaction
	for _, tx := range txs {
		if tx.BlockHash != nil {
			if _, ok := t.data.blocks[*tx.BlockHash]; !ok {
				return nil, fmt.Errorf("%w: transactions_block_hash_fkey: block %s does not exist",
					storage.ErrConstraint, *tx.BlockHash)
			}
			for _, other := range t.data.txs {
				if other.Hash != tx.Hash && other.BlockHash != nil && *other.BlockHash == *tx.BlockHash &&
					*other.Index == *tx.Index {
					return nil, fmt.Errorf("%w: transactions_block_hash_index_index: %s already holds index %d",
						storage.ErrConstraint, *tx.BlockHash, *tx.Index)
				}
			}
		}
		existing, ok := t.data.txs[tx.Hash]
		if ok && existing.SameContent(tx) {
			continue
		}
		tx.UpdatedAt = now
		if ok {
			tx.InsertedAt = existing.InsertedAt
		} else {
			tx.InsertedAt = now
		}
		t.data.txs[tx.Hash] = tx
		out = append(out, tx)
	}
	return out, nil
}

func (t *Tx) UpsertTransactionForks(ctx context.Context, forks []domain.TransactionFork, now time.Time) ([]domain.TransactionFork, error) {
	if err := t.check(ctx, "UpsertTransactionForks"); err != nil {
		return nil, err
	}
	var out []domain.TransactionFork
	for _, f := range forks {
		if _, ok := t.data.blocks[f.UncleHash]; !ok {
			return nil, fmt.Errorf("%w: transaction_forks_uncle_hash_fkey: block %s does not exist",
				storage.ErrConstraint, f.UncleHash)
		}
		if _, ok := t.data.txs[f.TransactionHash]; !ok {
			return nil, fmt.Errorf("%w: transaction_forks_hash_fkey: transaction %s does not exist",
				storage.ErrConstraint, f.TransactionHash)
		}
		key := forkKey{uncleHash: f.UncleHash, index: f.Index}
		existing, ok := t.data.forks[key]
		if ok && existing.TransactionHash == f.TransactionHash {
			continue
		}
		f.UpdatedAt = now
		if ok {
			f.InsertedAt = existing.InsertedAt
		} else {
			f.InsertedAt = now
		}
		t.data.forks[key] = f
		t.data.forkVersions[key]++
		out = append(out, f)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Balances
// -----------------------------------------------------------------------------

func (t *Tx) DeleteCurrentTokenBalances(ctx context.Context, numbers []int64) ([]domain.CurrentTokenBalance, error) {
	if err := t.check(ctx, "DeleteCurrentTokenBalances"); err != nil {
		return nil, err
	}
	wanted := toSet(numbers)
	var out []domain.CurrentTokenBalance
	for key, b := range t.data.current {
		if wanted[b.BlockNumber] {
			out = append(out, b)
			delete(t.data.current, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (t *Tx) LatestTokenBalanceBefore(ctx context.Context, key domain.BalanceKey, before int64) (*domain.TokenBalance, error) {
	if err := t.check(ctx, "LatestTokenBalanceBefore"); err != nil {
		return nil, err
	}
	var best *domain.TokenBalance
	for _, b := range t.data.history {
		if b.Key().String() != key.String() || b.BlockNumber >= before {
			continue
		}
		if best == nil || b.BlockNumber > best.BlockNumber {
			b := b
			best = &b
		}
	}
	return best, nil
}

func (t *Tx) UpsertCurrentTokenBalances(ctx context.Context, balances []domain.CurrentTokenBalance, now time.Time) error {
	if err := t.check(ctx, "UpsertCurrentTokenBalances"); err != nil {
		return err
	}
	for _, b := range balances {
		b.UpdatedAt = now
		t.data.current[b.Key().String()] = b
	}
	return nil
}

// -----------------------------------------------------------------------------
// Tokens
// -----------------------------------------------------------------------------

func (t *Tx) AdjustHolderCounts(ctx context.Context, deltas map[string]int64, now time.Time) ([]domain.Token, error) {
	if err := t.check(ctx, "AdjustHolderCounts"); err != nil {
		return nil, err
	}
	var out []domain.Token
	for _, contract := range slices.Sorted(maps.Keys(deltas)) {
		token, ok := t.data.tokens[contract]
		if !ok {
			continue
		}
		token.HolderCount += deltas[contract]
		token.UpdatedAt = now
		t.data.tokens[contract] = token
		out = append(out, token)
	}
	return out, nil
}

func (t *Tx) TokenInstancesOwnedAt(ctx context.Context, numbers []int64) ([]domain.TokenInstance, error) {
	if err := t.check(ctx, "TokenInstancesOwnedAt"); err != nil {
		return nil, err
	}
	wanted := toSet(numbers)
	var out []domain.TokenInstance
	for _, inst := range t.data.instances {
		token, ok := t.data.tokens[inst.ContractAddress]
		if !ok || !token.Type.TracksInstanceOwner() {
			continue
		}
		if wanted[inst.OwnerUpdatedAtBlock] {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (t *Tx) LatestCanonicalTransfer(
	ctx context.Context,
	contract string,
	tokenID *big.Int,
	variant domain.ChainVariant,
) (*domain.TokenTransfer, error) {
	if err := t.check(ctx, "LatestCanonicalTransfer"); err != nil {
		return nil, err
	}
	return t.latestTransfer(func(tt domain.TokenTransfer) bool {
		if tt.ContractAddress != contract || !tt.HasTokenID(tokenID) {
			return false
		}
		block, ok := t.data.blocks[tt.BlockHash]
		return ok && block.Consensus
	}, variant), nil
}

func (t *Tx) TransferAt(
	ctx context.Context,
	contract string,
	tokenID *big.Int,
	blockNumber int64,
	logIndex int64,
	variant domain.ChainVariant,
) (*domain.TokenTransfer, error) {
	if err := t.check(ctx, "TransferAt"); err != nil {
		return nil, err
	}
	return t.latestTransfer(func(tt domain.TokenTransfer) bool {
		return tt.ContractAddress == contract && tt.HasTokenID(tokenID) &&
			tt.BlockNumber == blockNumber && int64(tt.LogIndex) == logIndex
	}, variant), nil
}

func (t *Tx) latestTransfer(match func(domain.TokenTransfer) bool, variant domain.ChainVariant) *domain.TokenTransfer {
	var best *domain.TokenTransfer
	for _, tt := range t.data.transfers {
		if !match(tt) {
			continue
		}
		if best == nil || variant.CompareTransfers(tt, *best) > 0 {
			tt := tt
			best = &tt
		}
	}
	return best
}

func (t *Tx) UpdateTokenInstanceOwners(ctx context.Context, instances []domain.TokenInstance, now time.Time) error {
	if err := t.check(ctx, "UpdateTokenInstanceOwners"); err != nil {
		return err
	}
	for _, inst := range instances {
		existing, ok := t.data.instances[inst.Key()]
		if !ok {
			continue
		}
		existing.OwnerAddress = inst.OwnerAddress
		existing.OwnerUpdatedAtBlock = inst.OwnerUpdatedAtBlock
		existing.OwnerUpdatedAtLogIndex = inst.OwnerUpdatedAtLogIndex
		existing.UpdatedAt = now
		t.data.instances[inst.Key()] = existing
	}
	return nil
}

// -----------------------------------------------------------------------------
// Missing ranges
// -----------------------------------------------------------------------------

func (t *Tx) MissingRangesNear(ctx context.Context, from, to int64) ([]domain.MissingBlockRange, error) {
	if err := t.check(ctx, "MissingRangesNear"); err != nil {
		return nil, err
	}
	var out []domain.MissingBlockRange
	for _, r := range t.data.missing {
		if r.FromNumber <= to+1 && from <= r.ToNumber+1 {
			out = append(out, r)
		}
	}
	sortRanges(out)
	return out, nil
}

func (t *Tx) InsertMissingRanges(ctx context.Context, ranges []domain.MissingBlockRange, now time.Time) ([]domain.MissingBlockRange, error) {
	if err := t.check(ctx, "InsertMissingRanges"); err != nil {
		return nil, err
	}
	out := make([]domain.MissingBlockRange, 0, len(ranges))
	for _, r := range ranges {
		if r.FromNumber > r.ToNumber {
			return nil, fmt.Errorf("%w: missing_block_ranges_bounds_check: %d > %d",
				storage.ErrConstraint, r.FromNumber, r.ToNumber)
		}
		r.ID = t.data.nextMissingID
		t.data.nextMissingID++
		r.InsertedAt, r.UpdatedAt = now, now
		t.data.missing[r.ID] = r
		out = append(out, r)
	}
	return out, nil
}

func (t *Tx) UpdateMissingRanges(ctx context.Context, ranges []domain.MissingBlockRange, now time.Time) error {
	if err := t.check(ctx, "UpdateMissingRanges"); err != nil {
		return err
	}
	for _, r := range ranges {
		existing, ok := t.data.missing[r.ID]
		if !ok {
			continue
		}
		existing.FromNumber, existing.ToNumber = r.FromNumber, r.ToNumber
		existing.UpdatedAt = now
		t.data.missing[r.ID] = existing
	}
	return nil
}

func (t *Tx) DeleteMissingRanges(ctx context.Context, ids []int64) error {
	if err := t.check(ctx, "DeleteMissingRanges"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(t.data.missing, id)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Pending block operations
// -----------------------------------------------------------------------------

func (t *Tx) InsertPendingBlockOperations(
	ctx context.Context,
	ops []domain.PendingBlockOperation,
	now time.Time,
) ([]domain.PendingBlockOperation, error) {
	if err := t.check(ctx, "InsertPendingBlockOperations"); err != nil {
		return nil, err
	}
	var out []domain.PendingBlockOperation
	for _, op := range ops {
		if _, ok := t.data.blocks[op.BlockHash]; !ok {
			return nil, fmt.Errorf("%w: pending_block_operations_block_hash_fkey: block %s does not exist",
				storage.ErrConstraint, op.BlockHash)
		}
		if _, ok := t.data.pending[op.BlockHash]; ok {
			continue
		}
		op.InsertedAt = now
		t.data.pending[op.BlockHash] = op
		out = append(out, op)
	}
	return out, nil
}

func (t *Tx) DeletePendingBlockOperations(ctx context.Context, blockHashes []string) ([]domain.PendingBlockOperation, error) {
	if err := t.check(ctx, "DeletePendingBlockOperations"); err != nil {
		return nil, err
	}
	var out []domain.PendingBlockOperation
	for _, h := range blockHashes {
		if op, ok := t.data.pending[h]; ok {
			delete(t.data.pending, h)
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func toSet[T comparable](items []T) map[T]bool {
	set := make(map[T]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func sortBlocks(blocks []domain.Block) {
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Number != blocks[j].Number {
			return blocks[i].Number < blocks[j].Number
		}
		return blocks[i].Hash < blocks[j].Hash
	})
}

func sortRanges(rs []domain.MissingBlockRange) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].FromNumber < rs[j].FromNumber })
}

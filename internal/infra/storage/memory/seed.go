package memory

import (
	"math/big"
	"sort"

	"github.com/vietddude/blockimport/internal/core/domain"
)

// Seed writes fixtures directly, bypassing constraints. Intended for tests and dry runs.

func (m *MemoryStorage) PutBlocks(blocks ...domain.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		m.data.blocks[b.Hash] = b
	}
}

func (m *MemoryStorage) PutTransactions(txs ...domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		m.data.txs[tx.Hash] = tx
	}
}

func (m *MemoryStorage) PutTokens(tokens ...domain.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tokens {
		m.data.tokens[t.ContractAddress] = t
	}
}

func (m *MemoryStorage) PutTransfers(transfers ...domain.TokenTransfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.transfers = append(m.data.transfers, transfers...)
}

func (m *MemoryStorage) PutTokenInstances(instances ...domain.TokenInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range instances {
		m.data.instances[inst.Key()] = inst
	}
}

func (m *MemoryStorage) PutCurrentTokenBalances(balances ...domain.CurrentTokenBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range balances {
		m.data.current[b.Key().String()] = b
	}
}

func (m *MemoryStorage) PutTokenBalances(balances ...domain.TokenBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.history = append(m.data.history, balances...)
}

// PutMissingRanges assigns ids and returns the stored rows.
func (m *MemoryStorage) PutMissingRanges(ranges ...domain.MissingBlockRange) []domain.MissingBlockRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MissingBlockRange, 0, len(ranges))
	for _, r := range ranges {
		r.ID = m.data.nextMissingID
		m.data.nextMissingID++
		m.data.missing[r.ID] = r
		out = append(out, r)
	}
	return out
}

// -----------------------------------------------------------------------------
// Inspection
// -----------------------------------------------------------------------------

// Block returns the block by hash.
func (m *MemoryStorage) Block(hash string) (domain.Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data.blocks[hash]
	return b, ok
}

// CanonicalBlocks returns every consensus block ordered by number.
func (m *MemoryStorage) CanonicalBlocks() []domain.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Block
	for _, b := range m.data.blocks {
		if b.Consensus {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out
}

func (m *MemoryStorage) Transaction(hash string) (domain.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.data.txs[hash]
	return tx, ok
}

// Forks returns all fork rows ordered by (uncle_hash, index).
func (m *MemoryStorage) Forks() []domain.TransactionFork {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TransactionFork, 0, len(m.data.forks))
	for _, f := range m.data.forks {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UncleHash != out[j].UncleHash {
			return out[i].UncleHash < out[j].UncleHash
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// ForkWrites reports how many times the fork row was written.
func (m *MemoryStorage) ForkWrites(uncleHash string, index int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.forkVersions[forkKey{uncleHash: uncleHash, index: index}]
}

func (m *MemoryStorage) CurrentTokenBalance(key domain.BalanceKey) (domain.CurrentTokenBalance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data.current[key.String()]
	return b, ok
}

func (m *MemoryStorage) Token(contract string) (domain.Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.data.tokens[contract]
	return t, ok
}

func (m *MemoryStorage) TokenInstance(contract string, tokenID *big.Int) (domain.TokenInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.data.instances[domain.TokenInstance{ContractAddress: contract, TokenID: tokenID}.Key()]
	return inst, ok
}

// MissingRanges returns the stored range set ordered by from_number.
func (m *MemoryStorage) MissingRanges() []domain.MissingBlockRange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MissingBlockRange, 0, len(m.data.missing))
	for _, r := range m.data.missing {
		out = append(out, r)
	}
	sortRanges(out)
	return out
}

// PendingOperations returns markers ordered by block number.
func (m *MemoryStorage) PendingOperations() []domain.PendingBlockOperation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PendingBlockOperation, 0, len(m.data.pending))
	for _, op := range m.data.pending {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNumber < out[j].BlockNumber })
	return out
}

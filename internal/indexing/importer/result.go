package importer

import (
	"github.com/vietddude/blockimport/internal/core/domain"
)

// RangeChanges lists the missing range rows written by one batch.
type RangeChanges struct {
	Inserted []domain.MissingBlockRange `json:"inserted"`
	Updated  []domain.MissingBlockRange `json:"updated"`
	Deleted  []domain.MissingBlockRange `json:"deleted"`
}

// Len returns the number of changed rows.
func (c RangeChanges) Len() int {
	return len(c.Inserted) + len(c.Updated) + len(c.Deleted)
}

// Result exposes every row a committed batch touched, grouped by step.
type Result struct {
	BatchID string `json:"batch_id"`

	LostConsensus            []domain.LostConsensus         `json:"lost_consensus"`
	Blocks                   []domain.BlockChange           `json:"blocks"`
	Forks                    []domain.TransactionFork       `json:"forks"`
	UnplacedTransactions     []domain.Transaction           `json:"unplaced_transactions"`
	Transactions             []domain.Transaction           `json:"transactions"`
	DeletedBalances          []domain.CurrentTokenBalance   `json:"deleted_balances"`
	RestoredBalances         []domain.CurrentTokenBalance   `json:"restored_balances"`
	Tokens                   []domain.Token                 `json:"tokens"`
	TokenInstances           []domain.TokenInstance         `json:"token_instances"`
	MissingRanges            RangeChanges                   `json:"missing_ranges"`
	PendingOperations        []domain.PendingBlockOperation `json:"pending_operations"`
	DeletedPendingOperations []domain.PendingBlockOperation `json:"deleted_pending_operations"`
}

// ByState returns the rows written at each state.
func (r *Result) ByState() map[State]any {
	return map[State]any{
		StateConsensusResolved:      r.LostConsensus,
		StateUpserted:               r.Blocks,
		StateForksDerived:           r.Forks,
		StateTransactionsCollated:   r.Transactions,
		StateBalancesInvalidated:    r.DeletedBalances,
		StateHolderCountsUpdated:    r.Tokens,
		StateInstanceOwnersResolved: r.TokenInstances,
		StateRangesUpdated:          r.MissingRanges,
		StatePendingOpsScheduled:    r.PendingOperations,
	}
}

// Counts returns the number of rows written at each state.
func (r *Result) Counts() map[State]int {
	return map[State]int{
		StateConsensusResolved:      len(r.LostConsensus),
		StateUpserted:               len(r.Blocks),
		StateForksDerived:           len(r.Forks) + len(r.UnplacedTransactions),
		StateTransactionsCollated:   len(r.Transactions),
		StateBalancesInvalidated:    len(r.DeletedBalances),
		StateHolderCountsUpdated:    len(r.Tokens) + len(r.RestoredBalances),
		StateInstanceOwnersResolved: len(r.TokenInstances),
		StateRangesUpdated:          r.MissingRanges.Len(),
		StatePendingOpsScheduled:    len(r.PendingOperations) + len(r.DeletedPendingOperations),
	}
}

// Empty reports whether the batch changed nothing.
func (r *Result) Empty() bool {
	for _, n := range r.Counts() {
		if n > 0 {
			return false
		}
	}
	return true
}

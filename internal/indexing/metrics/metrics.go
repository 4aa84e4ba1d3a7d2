package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal tracks imported batches per chain and outcome (committed, aborted, invalid)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_batches_total",
			Help: "Total number of block batches by outcome",
		},
		[]string{"chain", "status"},
	)

	// BatchDuration tracks the wall time of a batch transaction
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockimport_batch_duration_seconds",
			Help:    "Batch import duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// StepDuration tracks time spent in each orchestrator state
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockimport_step_duration_seconds",
			Help:    "Import step duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "state"},
	)

	// BlocksImported tracks block rows written
	BlocksImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_blocks_imported_total",
			Help: "Total number of block rows inserted or updated",
		},
		[]string{"chain"},
	)

	// ConsensusLost tracks blocks that lost canonical status
	ConsensusLost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_consensus_lost_total",
			Help: "Total number of blocks that lost consensus",
		},
		[]string{"chain"},
	)

	// ForksWritten tracks transaction fork rows written
	ForksWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_forks_written_total",
			Help: "Total number of transaction fork rows written",
		},
		[]string{"chain"},
	)

	// BalancesInvalidated tracks deleted current token balances
	BalancesInvalidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_balances_invalidated_total",
			Help: "Total number of current token balances deleted",
		},
		[]string{"chain"},
	)

	// HolderCountUpdates tracks token rows whose holder count changed
	HolderCountUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_holder_count_updates_total",
			Help: "Total number of token holder count updates",
		},
		[]string{"chain"},
	)

	// OwnerRepairs tracks token instances whose owner was repaired
	OwnerRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_owner_repairs_total",
			Help: "Total number of token instance owner repairs",
		},
		[]string{"chain"},
	)

	// MissingRangeChanges tracks missing range rows by operation (insert, update, delete)
	MissingRangeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_missing_range_changes_total",
			Help: "Total number of missing block range changes",
		},
		[]string{"chain", "op"},
	)

	// PendingOperationsScheduled tracks pending block operations inserted
	PendingOperationsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockimport_pending_operations_total",
			Help: "Total number of pending block operations scheduled",
		},
		[]string{"chain"},
	)

	// DBConnectionPoolUsage tracks the ratio of in-use to max connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockimport_db_connection_pool_usage",
			Help: "Database connection pool usage ratio",
		},
	)

	// DBBatchSize tracks rows per bulk statement
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockimport_db_batch_size",
			Help:    "Rows written per bulk statement",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"operation"},
	)
)

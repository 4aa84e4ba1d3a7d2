// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ImportHealth contains health metrics for the importer of one chain.
type ImportHealth struct {
	Chain             string       `json:"chain"`
	Status            SystemStatus `json:"status"`
	DatabaseError     string       `json:"database_error,omitempty"`
	MissingRanges     int          `json:"missing_ranges"`
	MissingBlocks     int64        `json:"missing_blocks"`
	PendingOperations int64        `json:"pending_operations"`
	FailedBatches     int          `json:"failed_batches"`
}

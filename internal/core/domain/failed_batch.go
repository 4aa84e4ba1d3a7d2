package domain

import "time"

// FailedBatch is a batch that exhausted its import attempts, kept for later replay.
type FailedBatch struct {
	ID          string    `json:"id"`
	Chain       string    `json:"chain"`
	Source      string    `json:"source"`
	State       string    `json:"state"`
	Error       string    `json:"error"`
	RetryCount  int       `json:"retry_count"`
	FirstFailed time.Time `json:"first_failed"`
	LastAttempt time.Time `json:"last_attempt"`
	Batch       Batch     `json:"batch"`
}

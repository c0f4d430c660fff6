package model

import "time"

// RunStatus is the lifecycle state of a recorded job run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one entry in the run ledger. Every ingest, enrich, and sync
// invocation gets one, with its summary attached on completion.
type Run struct {
	ID          string     `json:"id"`
	Job         string     `json:"job"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     *Summary   `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration reports how long the run took, or zero while it is still running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

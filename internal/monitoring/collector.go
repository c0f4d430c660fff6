// Package monitoring watches the run ledger and raises alerts when job
// runs fail or stall.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

// maxRuns bounds how many ledger entries one collection reads.
const maxRuns = 1000

// JobHealth holds per-job counts within the lookback window.
type JobHealth struct {
	Total      int     `json:"total"`
	Complete   int     `json:"complete"`
	Failed     int     `json:"failed"`
	Running    int     `json:"running"`
	FailRate   float64 `json:"fail_rate"`
	UnitErrors int     `json:"unit_errors"`
}

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	Runs       int     `json:"runs"`
	Complete   int     `json:"complete"`
	Failed     int     `json:"failed"`
	Running    int     `json:"running"`
	FailRate   float64 `json:"fail_rate"`
	UnitErrors int     `json:"unit_errors"`

	// StaleRuns lists runs still marked running after StaleRunHours.
	StaleRuns []string `json:"stale_runs,omitempty"`

	Jobs       map[string]*JobHealth `json:"jobs"`
	Unenriched int                   `json:"unenriched"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the slice of store.Store the collector reads.
type Source interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	CountByState(ctx context.Context) (map[model.EnrichmentState]int, error)
}

// Collector gathers run health from the store.
type Collector struct {
	src        Source
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Runs still running after staleHours are
// reported as stale; zero disables the check.
func NewCollector(src Source, staleHours int) *Collector {
	return &Collector{
		src:        src,
		staleAfter: time.Duration(staleHours) * time.Hour,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		Jobs:          make(map[string]*JobHealth),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.src.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	// Runs arrive newest first.
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			break
		}
		job := snap.Jobs[r.Job]
		if job == nil {
			job = &JobHealth{}
			snap.Jobs[r.Job] = job
		}
		snap.Runs++
		job.Total++

		switch r.Status {
		case model.RunStatusComplete:
			snap.Complete++
			job.Complete++
		case model.RunStatusFailed:
			snap.Failed++
			job.Failed++
		case model.RunStatusRunning:
			snap.Running++
			job.Running++
			if c.staleAfter > 0 && now.Sub(r.StartedAt) > c.staleAfter {
				snap.StaleRuns = append(snap.StaleRuns, r.ID)
			}
		}
		if r.Summary != nil {
			n := r.Summary.Failed()
			snap.UnitErrors += n
			job.UnitErrors += n
		}
	}

	snap.FailRate = failRate(snap.Complete, snap.Failed)
	for _, job := range snap.Jobs {
		job.FailRate = failRate(job.Complete, job.Failed)
	}

	states, err := c.src.CountByState(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by state")
	}
	snap.Unenriched = states[model.StateUnenriched]

	return snap, nil
}

func failRate(complete, failed int) float64 {
	finished := complete + failed
	if finished == 0 {
		return 0
	}
	return float64(failed) / float64(finished)
}

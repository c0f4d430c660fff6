package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ampersand-strategies/candidate-tracker/internal/config"
	"github.com/ampersand-strategies/candidate-tracker/internal/enrich"
	"github.com/ampersand-strategies/candidate-tracker/internal/ingest"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/monitoring"
	"github.com/ampersand-strategies/candidate-tracker/internal/reconcile"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

// jobRunner wires the batch jobs to one store. The CLI and the job server
// share it.
type jobRunner struct {
	cfg       *config.Config
	st        store.Store
	ingester  *ingest.Ingester
	enricher  *enrich.Enricher
	newTarget func(name string) (reconcile.Target, error)
}

func newJobRunner(c *config.Config, st store.Store) (*jobRunner, error) {
	client := newFECClient(c.FEC)
	policy := newUpstreamPolicy(c.FEC)
	ing, err := newIngester(st, client, policy)
	if err != nil {
		return nil, err
	}
	return &jobRunner{
		cfg:      c,
		st:       st,
		ingester: ing,
		enricher: newEnricher(st, client, policy, c.Enrich),
		newTarget: func(name string) (reconcile.Target, error) {
			return newTarget(c, name)
		},
	}, nil
}

// ingestRequest overrides the configured backfill categories.
type ingestRequest struct {
	Cycles  []int    `json:"cycles,omitempty"`
	Parties []string `json:"parties,omitempty"`
	Offices []string `json:"offices,omitempty"`
	State   string   `json:"state,omitempty"`
}

func (j *jobRunner) plan(req ingestRequest) ingest.Plan {
	opts := ingest.PlanOptions{
		Cycles:   j.cfg.Ingest.Cycles,
		Parties:  j.cfg.Ingest.Parties,
		Offices:  j.cfg.Ingest.Offices,
		State:    req.State,
		PageSize: j.cfg.FEC.PageSize,
	}
	if len(req.Cycles) > 0 {
		opts.Cycles = req.Cycles
	}
	if len(req.Parties) > 0 {
		opts.Parties = req.Parties
	}
	if len(req.Offices) > 0 {
		opts.Offices = req.Offices
	}
	return ingest.NewPlan(originFEC, opts)
}

func (j *jobRunner) ingest(ctx context.Context, req ingestRequest) *model.Summary {
	return j.ingester.Run(ctx, j.plan(req))
}

// enrichRequest selects the enrichment mode.
type enrichRequest struct {
	Limit      int  `json:"limit,omitempty"`
	Offset     int  `json:"offset,omitempty"`
	All        bool `json:"all,omitempty"`
	MaxBatches int  `json:"max_batches,omitempty"`
	Refresh    bool `json:"refresh,omitempty"`
}

func (j *jobRunner) enrich(ctx context.Context, req enrichRequest) *model.Summary {
	switch {
	case req.Refresh:
		return j.enricher.RefreshDisclosures(ctx, enrich.Batch{Limit: req.Limit, Offset: req.Offset})
	case req.All:
		return j.enricher.RunAll(ctx, req.Limit, req.MaxBatches)
	default:
		return j.enricher.Pass(ctx, enrich.Batch{Limit: req.Limit, Offset: req.Offset})
	}
}

func (j *jobRunner) sync(ctx context.Context, target string) (*model.Summary, error) {
	if target == "" {
		target = j.cfg.Sync.Target
	}
	t, err := j.newTarget(target)
	if err != nil {
		return nil, err
	}
	return reconcile.New(j.st, t, syncTables(j.cfg)).Run(ctx), nil
}

// statusReport is the local store at a glance.
type statusReport struct {
	Enrichment map[model.EnrichmentState]int `json:"enrichment"`
	Parties    map[string]int                `json:"parties"`
	Runs       []runView                     `json:"runs"`
	Health     *monitoring.MetricsSnapshot   `json:"health,omitempty"`
	Alerts     []monitoring.Alert            `json:"alerts,omitempty"`
}

type runView struct {
	ID         string          `json:"id"`
	Job        string          `json:"job"`
	Status     model.RunStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   string          `json:"duration,omitempty"`
	Error      string          `json:"error,omitempty"`
	Failures   int             `json:"failures,omitempty"`
	NextOffset *int            `json:"next_offset,omitempty"`
	Exhausted  bool            `json:"exhausted,omitempty"`
}

func statusOf(ctx context.Context, st store.Store, runs int, mon config.MonitoringConfig) (*statusReport, error) {
	states, err := st.CountByState(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "status: count by state")
	}
	for _, s := range []model.EnrichmentState{model.StateUnenriched, model.StateSponsorResolved, model.StateSponsorNone} {
		if _, ok := states[s]; !ok {
			states[s] = 0
		}
	}
	parties, err := st.CountByParty(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "status: count by party")
	}
	list, err := st.ListRuns(ctx, store.RunFilter{Limit: runs})
	if err != nil {
		return nil, eris.Wrap(err, "status: list runs")
	}

	report := &statusReport{Enrichment: states, Parties: parties, Runs: make([]runView, 0, len(list))}
	for _, r := range list {
		v := runView{ID: r.ID, Job: r.Job, Status: r.Status, StartedAt: r.StartedAt, Error: r.Error}
		if r.CompletedAt != nil {
			v.Duration = r.Duration().Round(time.Millisecond).String()
		}
		if r.Summary != nil {
			v.Failures = r.Summary.Failed()
			v.NextOffset = r.Summary.NextOffset
			v.Exhausted = r.Summary.Exhausted
		}
		report.Runs = append(report.Runs, v)
	}

	if mon.LookbackWindowHours > 0 {
		snap, err := monitoring.NewCollector(st, mon.StaleRunHours).Collect(ctx, mon.LookbackWindowHours)
		if err != nil {
			return nil, eris.Wrap(err, "status: collect health")
		}
		report.Health = snap
		report.Alerts = monitoring.NewAlerter(mon).Evaluate(snap)
	}
	return report, nil
}

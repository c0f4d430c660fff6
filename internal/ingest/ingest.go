// Package ingest walks upstream candidate listings and resolves every record
// into the local store.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/fetcher"
	"github.com/ampersand-strategies/candidate-tracker/internal/metrics"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
	"github.com/ampersand-strategies/candidate-tracker/internal/resolve"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
	"github.com/ampersand-strategies/candidate-tracker/pkg/fec"
)

// Job is the ledger name of ingest runs.
const Job = "ingest"

// Summary counters.
const (
	CountQueries   = "queries"
	CountAbandoned = "queries_abandoned"
	CountPages     = "pages"
	CountSeen      = "seen"
	CountInserted  = "inserted"
	CountSkipped   = "skipped"
	CountDuplicate = "duplicates"
	CountRejected  = "rejected"
)

// Resolver resolves one raw record. *resolve.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, origin string, raw map[string]any, cycle int) (resolve.Outcome, *model.Candidate, error)
}

// Ingester runs ingest plans.
type Ingester struct {
	src      fetcher.PageSource
	resolver Resolver
	ledger   store.RunLedger
	opts     fetcher.Options
	log      *zap.Logger
}

// New creates an Ingester. opts is applied to every pager it creates.
func New(src fetcher.PageSource, resolver Resolver, ledger store.RunLedger, opts fetcher.Options) *Ingester {
	return &Ingester{
		src:      src,
		resolver: resolver,
		ledger:   ledger,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "ingest")),
	}
}

// Run walks every query of plan and records the run in the ledger.
// Per-page and per-record failures land in the summary; Run itself never fails.
func (i *Ingester) Run(ctx context.Context, plan Plan) *model.Summary {
	summary := store.Track(ctx, i.ledger, Job, func(ctx context.Context) *model.Summary {
		return i.run(ctx, plan)
	})
	metrics.RecordJob(summary)
	return summary
}

func (i *Ingester) run(ctx context.Context, plan Plan) *model.Summary {
	summary := model.NewSummary(Job)
	i.log.Info("starting ingest", zap.String("origin", plan.Origin), zap.Int("queries", len(plan.Queries)))

	for _, q := range plan.Queries {
		if ctx.Err() != nil {
			summary.Recordf(plan.Origin, model.ErrorTransient, 0, "interrupted before %s: %v", q, ctx.Err())
			break
		}
		summary.Inc(CountQueries)
		i.ingestQuery(ctx, plan.Origin, q, summary)
	}

	i.log.Info("ingest complete",
		zap.Int("seen", summary.Count(CountSeen)),
		zap.Int("inserted", summary.Count(CountInserted)),
		zap.Int("skipped", summary.Count(CountSkipped)),
		zap.Int("failed", summary.Failed()),
	)
	return summary.Finish()
}

// ingestQuery walks one category. A failed page abandons the rest of the
// category, since later pages cannot be reached without it.
func (i *Ingester) ingestQuery(ctx context.Context, origin string, q fec.CandidateQuery, summary *model.Summary) {
	log := i.log.With(zap.Stringer("query", q))
	pager := fetcher.NewPager(i.src, q, i.opts)

	for page, err := range pager.All(ctx) {
		if err != nil {
			kind := model.ErrorPermanent
			if resilience.Classify(err) == resilience.TransientFailure {
				kind = model.ErrorTransient
			}
			summary.Record(model.UnitError{
				Unit:    fmt.Sprintf("%s %s page %d", origin, q, page.Number),
				Kind:    kind,
				Status:  resilience.StatusCode(err),
				Message: err.Error(),
			})
			summary.Inc(CountAbandoned)
			log.Warn("abandoning category", zap.Int("page", page.Number), zap.Error(err))
			return
		}

		summary.Inc(CountPages)
		for _, raw := range page.Records {
			summary.Inc(CountSeen)
			i.resolveRecord(ctx, origin, q.Cycle, raw, summary)
		}
		log.Debug("page ingested", zap.Int("page", page.Number), zap.Int("records", len(page.Records)))
	}
}

func (i *Ingester) resolveRecord(ctx context.Context, origin string, cycle int, raw map[string]any, summary *model.Summary) {
	outcome, _, err := i.resolver.Resolve(ctx, origin, raw, cycle)
	if err != nil {
		summary.Inc(CountRejected)
		kind := model.ErrorPermanent
		if !isRejection(err) && resilience.IsTransient(err) {
			kind = model.ErrorTransient
		}
		summary.Recordf(recordUnit(origin, raw), kind, 0, "%v", err)
		return
	}
	switch outcome {
	case resolve.OutcomeInserted:
		summary.Inc(CountInserted)
	case resolve.OutcomeSkipped:
		summary.Inc(CountSkipped)
	case resolve.OutcomeDuplicate:
		summary.Inc(CountDuplicate)
	}
}

func isRejection(err error) bool {
	return errors.Is(err, resolve.ErrNoIdentifier) ||
		errors.Is(err, resolve.ErrIncomplete) ||
		errors.Is(err, resolve.ErrUnknownOrigin)
}

func recordUnit(origin string, raw map[string]any) string {
	for _, k := range []string{"candidate_id", "name"} {
		if v, ok := raw[k].(string); ok && v != "" {
			return fmt.Sprintf("%s record %s", origin, v)
		}
	}
	return origin + " record"
}

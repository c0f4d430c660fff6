// Package enrich advances candidates through sponsor lookup and records the
// latest financial disclosure of each resolved sponsor.
//
// A candidate's state only moves forward: unenriched to sponsor_resolved or
// sponsor_none. The sponsor is written back before any disclosure call, so a
// crash between the two never leaves a candidate eligible for a second
// sponsor lookup.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/fetcher"
	"github.com/ampersand-strategies/candidate-tracker/internal/metrics"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
	"github.com/ampersand-strategies/candidate-tracker/pkg/fec"
)

// Ledger job names.
const (
	Job        = "enrich"
	RefreshJob = "refresh_disclosures"
)

const (
	// DefaultBatchSize is the number of candidates one pass selects.
	DefaultBatchSize = 25
	// MaxBatchSize caps the batch size a caller may request.
	MaxBatchSize = 100
)

// Summary counters.
const (
	CountProcessed           = "processed"
	CountResolved            = "resolved"
	CountNoneFound           = "none_found"
	CountAlreadyEnriched     = "already_enriched"
	CountDisclosuresAppended = "disclosures_appended"
	CountDisclosuresExisting = "disclosures_existing"
	CountNoDisclosure        = "no_disclosure"
	CountFailed              = "failed"
	CountBatches             = "batches"
)

// Lookup resolves sponsors and their filings. fec.Client satisfies it.
type Lookup interface {
	CandidateCommittees(ctx context.Context, candidateID string) ([]fec.Committee, error)
	LatestReport(ctx context.Context, committeeID string) (*fec.Report, error)
}

// Store is the slice of store.Store enrichment needs.
type Store interface {
	store.RunLedger
	ListUnenriched(ctx context.Context, limit, offset int) ([]model.Candidate, error)
	ListSponsorResolved(ctx context.Context, limit, offset int) ([]model.Candidate, error)
	SetSponsor(ctx context.Context, candidateID, sponsorID string) (bool, error)
	AppendDisclosure(ctx context.Context, d *model.Disclosure) error
	HasDisclosure(ctx context.Context, candidateID string, periodEnd time.Time) (bool, error)
}

// Batch selects a window of candidates.
type Batch struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Options configures an Enricher.
type Options struct {
	// Limiter spaces upstream calls; share it with the ingest pager.
	Limiter *fetcher.AdaptiveLimiter
	// Retry is applied to every upstream call.
	Retry resilience.RetryConfig
	// BatchSize is the default Batch.Limit. MaxBatchSize caps it.
	BatchSize    int
	MaxBatchSize int
}

// Enricher runs enrichment passes.
type Enricher struct {
	lookup Lookup
	store  Store
	opts   Options
	log    *zap.Logger
}

// New creates an Enricher.
func New(lookup Lookup, st Store, opts Options) *Enricher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = MaxBatchSize
	}
	return &Enricher{
		lookup: lookup,
		store:  st,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "enrich")),
	}
}

func (e *Enricher) limit(requested int) int {
	switch {
	case requested <= 0:
		return min(e.opts.BatchSize, e.opts.MaxBatchSize)
	case requested > e.opts.MaxBatchSize:
		return e.opts.MaxBatchSize
	default:
		return requested
	}
}

// Pass enriches one batch of unenriched candidates that carry an origin
// identifier, ordered by creation. Per-candidate failures are recorded in
// the summary and leave the candidate unenriched.
func (e *Enricher) Pass(ctx context.Context, b Batch) *model.Summary {
	summary := store.Track(ctx, e.store, Job, func(ctx context.Context) *model.Summary {
		s := model.NewSummary(Job)
		e.pass(ctx, b, s)
		return s.Finish()
	})
	metrics.RecordJob(summary)
	return summary
}

// RunAll repeats passes from offset 0 until the selection is exhausted,
// maxBatches passes have run (0 means no limit), or a pass makes no
// progress at all.
func (e *Enricher) RunAll(ctx context.Context, limit, maxBatches int) *model.Summary {
	summary := store.Track(ctx, e.store, Job, func(ctx context.Context) *model.Summary {
		total := model.NewSummary(Job)
		b := Batch{Limit: limit}
		for maxBatches <= 0 || total.Count(CountBatches) < maxBatches {
			if ctx.Err() != nil {
				break
			}
			s := model.NewSummary(Job)
			e.pass(ctx, b, s)
			merge(total, s)
			total.Inc(CountBatches)

			if s.Exhausted {
				break
			}
			if s.Count(CountResolved)+s.Count(CountNoneFound)+s.Count(CountAlreadyEnriched) == 0 {
				e.log.Warn("stopping: batch made no progress", zap.Int("offset", b.Offset))
				break
			}
			b.Offset = *s.NextOffset
		}
		return total.Finish()
	})
	metrics.RecordJob(summary)
	return summary
}

func (e *Enricher) pass(ctx context.Context, b Batch, s *model.Summary) {
	limit := e.limit(b.Limit)
	offset := max(b.Offset, 0)
	log := e.log.With(zap.Int("limit", limit), zap.Int("offset", offset))

	candidates, err := e.store.ListUnenriched(ctx, limit, offset)
	if err != nil {
		s.Recordf("selection", model.ErrorPermanent, 0, "%v", err)
		s.NextOffset = &offset
		return
	}
	log.Info("enrichment pass", zap.Int("selected", len(candidates)))

	leftBehind := 0
	for i := range candidates {
		c := &candidates[i]
		if ctx.Err() != nil {
			leftBehind += len(candidates) - i
			s.Recordf(unit(c), model.ErrorTransient, 0, "interrupted: %v", ctx.Err())
			break
		}
		s.Inc(CountProcessed)
		if !e.enrichOne(ctx, c, s) {
			leftBehind++
		}
	}

	if len(candidates) < limit && leftBehind == 0 {
		s.Exhausted = true
		return
	}
	next := offset + leftBehind
	s.NextOffset = &next
}

// enrichOne runs the sponsor lookup for one candidate and reports whether
// the candidate left the unenriched state.
func (e *Enricher) enrichOne(ctx context.Context, c *model.Candidate, s *model.Summary) bool {
	committees, err := resilience.DoVal(ctx, e.retry("candidate_committees"), func(ctx context.Context) ([]fec.Committee, error) {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		out, err := e.lookup.CandidateCommittees(ctx, c.OriginIDValue())
		e.observe("candidate_committees", err)
		return out, err
	})
	if err != nil {
		e.fail(s, c, err)
		return false
	}

	sponsor := model.SponsorNone
	if len(committees) > 0 && committees[0].CommitteeID != "" {
		sponsor = committees[0].CommitteeID
	}

	changed, err := e.store.SetSponsor(ctx, c.ID, sponsor)
	if err != nil {
		e.fail(s, c, eris.Wrap(err, "write sponsor"))
		return false
	}
	if !changed {
		// Another pass got here first; its result stands.
		s.Inc(CountAlreadyEnriched)
		return true
	}

	if sponsor == model.SponsorNone {
		s.Inc(CountNoneFound)
		return true
	}
	s.Inc(CountResolved)
	e.appendLatest(ctx, c, sponsor, s)
	return true
}

// appendLatest stores the sponsor's most recent disclosure unless a
// disclosure for that period already exists.
func (e *Enricher) appendLatest(ctx context.Context, c *model.Candidate, sponsor string, s *model.Summary) {
	report, err := resilience.DoVal(ctx, e.retry("latest_report"), func(ctx context.Context) (*fec.Report, error) {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		out, err := e.lookup.LatestReport(ctx, sponsor)
		e.observe("latest_report", err)
		return out, err
	})
	if err != nil {
		e.fail(s, c, eris.Wrapf(err, "latest report for %s", sponsor))
		return
	}
	if report == nil {
		s.Inc(CountNoDisclosure)
		return
	}

	periodEnd, err := report.PeriodEnd()
	if err != nil {
		e.fail(s, c, resilience.NewPermanentError(err, 0, ""))
		return
	}

	exists, err := e.store.HasDisclosure(ctx, c.ID, periodEnd)
	if err != nil {
		e.fail(s, c, err)
		return
	}
	if exists {
		s.Inc(CountDisclosuresExisting)
		return
	}

	d := &model.Disclosure{
		CandidateID:   c.ID,
		SponsorID:     sponsor,
		PeriodEnd:     periodEnd,
		ReportType:    report.ReportType,
		Receipts:      report.TotalReceiptsPeriod,
		Disbursements: report.TotalDisbursementsPeriod,
		CashOnHand:    report.CashOnHandEndPeriod,
		DocumentURL:   report.PDFURL,
	}
	if err := e.store.AppendDisclosure(ctx, d); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.Inc(CountDisclosuresExisting)
			return
		}
		e.fail(s, c, err)
		return
	}
	s.Inc(CountDisclosuresAppended)
}

func (e *Enricher) fail(s *model.Summary, c *model.Candidate, err error) {
	s.Inc(CountFailed)
	kind := model.ErrorPermanent
	if resilience.Classify(err) == resilience.TransientFailure {
		kind = model.ErrorTransient
	}
	s.Record(model.UnitError{
		Unit:    unit(c),
		Kind:    kind,
		Status:  resilience.StatusCode(err),
		Message: err.Error(),
	})
	e.log.Warn("candidate enrichment failed",
		zap.String("candidate_id", c.ID),
		zap.String("origin_id", c.OriginIDValue()),
		zap.Error(err),
	)
}

func (e *Enricher) wait(ctx context.Context) error {
	if e.opts.Limiter == nil {
		return nil
	}
	return e.opts.Limiter.Wait(ctx)
}

// observe records the call and lets the limiter recover after a success.
func (e *Enricher) observe(operation string, err error) {
	metrics.RecordCall("fec", operation, err)
	if err == nil && e.opts.Limiter != nil {
		e.opts.Limiter.OnSuccess()
	}
}

func (e *Enricher) retry(operation string) resilience.RetryConfig {
	cfg := e.opts.Retry
	log := resilience.RetryLogger("fec", operation)
	cfg.OnRetry = func(attempt int, err error) {
		if e.opts.Limiter != nil && resilience.StatusCode(err) == http.StatusTooManyRequests {
			e.opts.Limiter.OnRateLimit()
		}
		log(attempt, err)
	}
	return cfg
}

func unit(c *model.Candidate) string {
	return fmt.Sprintf("candidate %s", c.OriginIDValue())
}

func merge(into, from *model.Summary) {
	for k, v := range from.Counts {
		into.Add(k, v)
	}
	for _, err := range from.Errors {
		into.Record(err)
	}
	into.Dropped += from.Dropped
	into.Exhausted = from.Exhausted
	into.NextOffset = from.NextOffset
}

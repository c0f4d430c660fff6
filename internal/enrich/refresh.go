package enrich

import (
	"context"

	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/metrics"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

// RefreshDisclosures re-checks the latest disclosure of sponsor-resolved
// candidates and appends any period not yet stored. Candidates with no
// sponsor are never selected.
func (e *Enricher) RefreshDisclosures(ctx context.Context, b Batch) *model.Summary {
	summary := store.Track(ctx, e.store, RefreshJob, func(ctx context.Context) *model.Summary {
		s := model.NewSummary(RefreshJob)
		e.refresh(ctx, b, s)
		return s.Finish()
	})
	metrics.RecordJob(summary)
	return summary
}

func (e *Enricher) refresh(ctx context.Context, b Batch, s *model.Summary) {
	limit := e.limit(b.Limit)
	offset := max(b.Offset, 0)

	candidates, err := e.store.ListSponsorResolved(ctx, limit, offset)
	if err != nil {
		s.Recordf("selection", model.ErrorPermanent, 0, "%v", err)
		s.NextOffset = &offset
		return
	}
	e.log.Info("disclosure refresh", zap.Int("selected", len(candidates)), zap.Int("offset", offset))

	for i := range candidates {
		if ctx.Err() != nil {
			s.Recordf(unit(&candidates[i]), model.ErrorTransient, 0, "interrupted: %v", ctx.Err())
			break
		}
		c := &candidates[i]
		s.Inc(CountProcessed)
		e.appendLatest(ctx, c, c.SponsorIDValue(), s)
	}

	// The selection does not shrink as disclosures are appended.
	processed := s.Count(CountProcessed)
	if len(candidates) < limit && processed == len(candidates) {
		s.Exhausted = true
		return
	}
	next := offset + processed
	s.NextOffset = &next
}

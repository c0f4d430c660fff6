// Package reconcile projects local candidates and their disclosures into a
// downstream table store without ever creating the same record twice.
//
// Each run lists what the downstream already holds, indexes it by the join
// key embedded in a downstream field, and creates only what is missing.
// Candidates are projected strictly before filings so every filing can link
// to its parent's downstream record.
package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/metrics"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

// Job is the ledger name of sync runs.
const Job = "sync"

// Summary counters.
const (
	CountCreated           = "created"
	CountExisting          = "existing"
	CountCandidatesCreated = "candidates_created"
	CountCandidatesExist   = "candidates_existing"
	CountFilingsCreated    = "filings_created"
	CountFilingsExist      = "filings_existing"
	CountUnkeyed           = "unkeyed"
	CountOtherOrigin       = "other_origin"
	CountOrphaned          = "orphaned"
	CountFilingsSkipped    = "filings_skipped"
	CountBatches           = "batches"
	CountBatchesFailed     = "batches_failed"
)

// localPageSize is how many local rows are read per query.
const localPageSize = 500

// Tables names the downstream tables.
type Tables struct {
	Candidates string `json:"candidates"`
	Filings    string `json:"filings"`
}

// Source is the slice of store.Store the engine reads from.
type Source interface {
	store.RunLedger
	ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]model.Candidate, error)
	ListDisclosures(ctx context.Context, filter store.DisclosureFilter) ([]model.Disclosure, error)
}

// Engine runs reconciliation passes.
type Engine struct {
	src    Source
	target Target
	tables Tables
	log    *zap.Logger
}

// New creates an Engine.
func New(src Source, target Target, tables Tables) *Engine {
	return &Engine{
		src:    src,
		target: target,
		tables: tables,
		log:    zap.L().With(zap.String("component", "reconcile")),
	}
}

// pending is a record waiting to be created, tagged with its join key.
type pending struct {
	localID string
	key     string
	fields  Fields
}

// Run reconciles candidates, then filings, and records the run in the
// ledger. Failed batches land in the summary and the run carries on.
func (e *Engine) Run(ctx context.Context) *model.Summary {
	summary := store.Track(ctx, e.src, Job, func(ctx context.Context) *model.Summary {
		summary := model.NewSummary(Job)
		e.run(ctx, summary)
		return summary.Finish()
	})
	metrics.RecordJob(summary)
	return summary
}

func (e *Engine) run(ctx context.Context, summary *model.Summary) {
	e.log.Info("starting sync",
		zap.String("candidates_table", e.tables.Candidates),
		zap.String("filings_table", e.tables.Filings),
	)

	parents, originIDs, ok := e.syncCandidates(ctx, summary)
	if !ok {
		return
	}
	e.syncFilings(ctx, parents, originIDs, summary)

	e.log.Info("sync complete",
		zap.Int("created", summary.Count(CountCreated)),
		zap.Int("existing", summary.Count(CountExisting)),
		zap.Int("orphaned", summary.Count(CountOrphaned)),
		zap.Int("failed", summary.Failed()),
	)
}

// syncCandidates returns the downstream id and origin id of every local
// candidate that is present downstream after the pass. originIDs also holds
// keyed candidates whose create failed.
func (e *Engine) syncCandidates(ctx context.Context, summary *model.Summary) (parents, originIDs map[string]string, ok bool) {
	index, ok := e.index(ctx, e.tables.Candidates, CandidateKeyField, summary)
	if !ok {
		return nil, nil, false
	}

	parents = make(map[string]string)
	originIDs = make(map[string]string)
	queued := make(map[string]bool)
	var queue []pending

	err := e.eachCandidate(ctx, func(c *model.Candidate) {
		if c.Origin != KeyedOrigin {
			summary.Inc(CountOtherOrigin)
			return
		}
		if !c.HasOriginID() {
			summary.Inc(CountUnkeyed)
			return
		}
		key := c.OriginIDValue()
		originIDs[c.ID] = key
		if id, ok := index[key]; ok {
			parents[c.ID] = id
			summary.Inc(CountExisting)
			summary.Inc(CountCandidatesExist)
			return
		}
		if queued[key] {
			return
		}
		queued[key] = true
		queue = append(queue, pending{localID: c.ID, key: key, fields: CandidateFields(c)})
	})
	if err != nil {
		summary.Recordf("local candidates", model.ErrorPermanent, 0, "%v", err)
		return nil, nil, false
	}

	e.flush(ctx, e.tables.Candidates, queue, CountCandidatesCreated, summary, func(p pending, id string) {
		index[p.key] = id
		parents[p.localID] = id
	})

	// Candidates sharing an origin id with one just created resolve to it.
	for localID, key := range originIDs {
		if _, ok := parents[localID]; !ok {
			if id, ok := index[key]; ok {
				parents[localID] = id
			}
		}
	}
	return parents, originIDs, true
}

func (e *Engine) syncFilings(ctx context.Context, parents, originIDs map[string]string, summary *model.Summary) {
	if ctx.Err() != nil {
		return
	}
	index, ok := e.index(ctx, e.tables.Filings, FilingKeyField, summary)
	if !ok {
		return
	}

	var queue []pending
	err := e.eachDisclosure(ctx, func(d *model.Disclosure) {
		if _, keyed := originIDs[d.CandidateID]; !keyed {
			summary.Inc(CountFilingsSkipped)
			return
		}
		parentID, ok := parents[d.CandidateID]
		if !ok {
			summary.Inc(CountOrphaned)
			return
		}
		key := FilingKey(originIDs[d.CandidateID], d.PeriodEnd)
		if _, ok := index[key]; ok {
			summary.Inc(CountExisting)
			summary.Inc(CountFilingsExist)
			return
		}
		index[key] = ""
		queue = append(queue, pending{localID: d.ID, key: key, fields: FilingFields(d, originIDs[d.CandidateID], parentID)})
	})
	if err != nil {
		summary.Recordf("local disclosures", model.ErrorPermanent, 0, "%v", err)
		return
	}

	e.flush(ctx, e.tables.Filings, queue, CountFilingsCreated, summary, func(p pending, id string) {
		index[p.key] = id
	})
}

// index lists table and maps each record's join key to its downstream id.
// Records without a key are ignored.
func (e *Engine) index(ctx context.Context, table, keyField string, summary *model.Summary) (map[string]string, bool) {
	recs, err := e.target.ListRecords(ctx, table)
	if err != nil {
		summary.Record(model.UnitError{
			Unit:    "list " + table,
			Kind:    model.ErrorDownstream,
			Status:  resilience.StatusCode(err),
			Message: err.Error(),
		})
		e.log.Error("cannot list downstream table", zap.String("table", table), zap.Error(err))
		return nil, false
	}
	index := make(map[string]string, len(recs))
	for _, r := range recs {
		if key, ok := r.Fields[keyField].(string); ok && key != "" {
			index[key] = r.ID
		}
	}
	e.log.Debug("indexed downstream table", zap.String("table", table), zap.Int("records", len(index)))
	return index, true
}

// flush creates queue in chunks of MaxBatch. created is called for every
// record the target reports as written, including the head of a batch that
// failed part-way.
func (e *Engine) flush(ctx context.Context, table string, queue []pending, counter string, summary *model.Summary, created func(p pending, id string)) {
	size := max(e.target.MaxBatch(), 1)
	for start := 0; start < len(queue); start += size {
		if ctx.Err() != nil {
			summary.Recordf(table, model.ErrorTransient, 0, "interrupted with %d records unsent: %v", len(queue)-start, ctx.Err())
			return
		}
		end := min(start+size, len(queue))
		chunk := queue[start:end]
		rows := make([]Fields, len(chunk))
		for i, p := range chunk {
			rows[i] = p.fields
		}

		summary.Inc(CountBatches)
		recs, err := e.target.CreateRecords(ctx, table, rows)
		for i, r := range recs {
			if i < len(chunk) {
				created(chunk[i], r.ID)
				summary.Inc(CountCreated)
				summary.Inc(counter)
			}
		}
		if err != nil {
			summary.Inc(CountBatchesFailed)
			summary.Record(model.UnitError{
				Unit:    fmt.Sprintf("%s batch %d-%d", table, start+1, end),
				Kind:    model.ErrorDownstream,
				Status:  resilience.StatusCode(err),
				Message: err.Error(),
			})
			e.log.Warn("batch failed", zap.String("table", table), zap.Int("first", start+1), zap.Int("last", end), zap.Error(err))
		}
	}
}

func (e *Engine) eachCandidate(ctx context.Context, fn func(c *model.Candidate)) error {
	for offset := 0; ; offset += localPageSize {
		cands, err := e.src.ListCandidates(ctx, store.CandidateFilter{Limit: localPageSize, Offset: offset})
		if err != nil {
			return err
		}
		for i := range cands {
			fn(&cands[i])
		}
		if len(cands) < localPageSize {
			return nil
		}
	}
}

func (e *Engine) eachDisclosure(ctx context.Context, fn func(d *model.Disclosure)) error {
	for offset := 0; ; offset += localPageSize {
		ds, err := e.src.ListDisclosures(ctx, store.DisclosureFilter{Limit: localPageSize, Offset: offset})
		if err != nil {
			return err
		}
		for i := range ds {
			fn(&ds[i])
		}
		if len(ds) < localPageSize {
			return nil
		}
	}
}

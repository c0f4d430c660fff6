package ingest

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampersand-strategies/candidate-tracker/internal/fetcher"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
	"github.com/ampersand-strategies/candidate-tracker/internal/resolve"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
	"github.com/ampersand-strategies/candidate-tracker/pkg/fec"
)

type call struct {
	query fec.CandidateQuery
	page  int
}

// scriptedSource serves pages keyed by query label and page number.
type scriptedSource struct {
	pages map[string]map[int]*fec.CandidatePage
	errs  map[string]error
	calls []call
}

func (s *scriptedSource) SearchCandidates(_ context.Context, q fec.CandidateQuery, page int) (*fec.CandidatePage, error) {
	q.PerPage = 0
	s.calls = append(s.calls, call{query: q, page: page})
	if err, ok := s.errs[q.String()]; ok && page > 1 {
		return nil, err
	}
	if p, ok := s.pages[q.String()][page]; ok {
		return p, nil
	}
	return &fec.CandidatePage{}, nil
}

func (s *scriptedSource) pagesFetched(label string) []int {
	var out []int
	for _, c := range s.calls {
		if c.query.String() == label {
			out = append(out, c.page)
		}
	}
	return out
}

func raw(id, name string) fec.RawCandidate {
	return fec.RawCandidate{
		"candidate_id": id,
		"name":         name,
		"party":        "DEM",
		"state":        "WA",
		"office_full":  "House",
		"district":     "01",
	}
}

func newTestIngester(t *testing.T, src fetcher.PageSource) (*Ingester, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	mappings, err := resolve.LoadMappings()
	require.NoError(t, err)

	opts := fetcher.Options{Retry: resilience.CooldownConfig(2, time.Millisecond)}
	return New(src, resolve.New(st, mappings), st, opts), st
}

func countCandidates(t *testing.T, st store.Store) int {
	t.Helper()
	all, err := st.ListCandidates(context.Background(), store.CandidateFilter{Limit: 1000})
	require.NoError(t, err)
	return len(all)
}

func TestRun_StopsAfterEmptyPage(t *testing.T) {
	src := &scriptedSource{pages: map[string]map[int]*fec.CandidatePage{
		"2026/H/DEM": {
			1: {Results: []fec.RawCandidate{raw("H6WA01001", "A"), raw("H6WA01002", "B")}, Pagination: fec.Pagination{Pages: 3}},
			2: {Pagination: fec.Pagination{Pages: 3}},
			3: {Results: []fec.RawCandidate{raw("H6WA01003", "C")}, Pagination: fec.Pagination{Pages: 3}},
		},
	}}
	ing, st := newTestIngester(t, src)

	summary := ing.Run(context.Background(), NewPlan("FEC", PlanOptions{
		Cycles: []int{2026}, Offices: []string{"H"}, Parties: []string{"DEM"},
	}))

	assert.Equal(t, []int{1, 2}, src.pagesFetched("2026/H/DEM"))
	assert.Equal(t, 2, countCandidates(t, st))
	assert.Equal(t, 2, summary.Count(CountInserted))
	assert.Equal(t, 1, summary.Count(CountPages))
	assert.Empty(t, summary.Errors)
	assert.False(t, summary.FinishedAt.IsZero())
}

func TestRun_Idempotent(t *testing.T) {
	src := &scriptedSource{pages: map[string]map[int]*fec.CandidatePage{
		"2026/H/DEM": {1: {Results: []fec.RawCandidate{raw("H1", "A"), raw("H2", "B")}}},
		"2026/H/IND": {1: {Results: []fec.RawCandidate{raw("H3", "C")}}},
	}}
	ing, st := newTestIngester(t, src)
	plan := NewPlan("FEC", PlanOptions{Cycles: []int{2026}, Offices: []string{"H"}, Parties: []string{"DEM", "IND"}})

	first := ing.Run(context.Background(), plan)
	second := ing.Run(context.Background(), plan)

	assert.Equal(t, 3, countCandidates(t, st))
	assert.Equal(t, 3, first.Count(CountInserted))
	assert.Equal(t, 0, second.Count(CountInserted))
	assert.Equal(t, 3, second.Count(CountSkipped))
	assert.Equal(t, 3, second.Count(CountSeen))

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Job: Job})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status)
	}
}

func TestRun_FailedPageAbandonsOnlyItsCategory(t *testing.T) {
	limited := resilience.NewTransientError(errors.New("fec: rate limited"), http.StatusTooManyRequests)
	src := &scriptedSource{
		pages: map[string]map[int]*fec.CandidatePage{
			"2026/H/DEM": {1: {Results: []fec.RawCandidate{raw("H1", "A")}, Pagination: fec.Pagination{Pages: 4}}},
			"2026/S/DEM": {1: {Results: []fec.RawCandidate{raw("S1", "B")}}},
		},
		errs: map[string]error{"2026/H/DEM": limited},
	}
	ing, st := newTestIngester(t, src)

	summary := ing.Run(context.Background(), NewPlan("FEC", PlanOptions{
		Cycles: []int{2026}, Offices: []string{"H", "S"}, Parties: []string{"DEM"},
	}))

	assert.Equal(t, 2, countCandidates(t, st))
	assert.Equal(t, []int{1, 2, 2}, src.pagesFetched("2026/H/DEM"), "page 2 retried, page 3 never requested")
	assert.Equal(t, []int{1, 2}, src.pagesFetched("2026/S/DEM"))
	assert.Equal(t, 1, summary.Count(CountAbandoned))
	assert.Equal(t, 2, summary.Count(CountQueries))

	require.Len(t, summary.Errors, 1)
	e := summary.Errors[0]
	assert.Equal(t, "FEC 2026/H/DEM page 2", e.Unit)
	assert.Equal(t, model.ErrorTransient, e.Kind)
	assert.Equal(t, http.StatusTooManyRequests, e.Status)
}

func TestRun_PermanentPageError(t *testing.T) {
	denied := resilience.NewPermanentError(errors.New("fec: unexpected status 403"), http.StatusForbidden, "")
	src := &scriptedSource{
		pages: map[string]map[int]*fec.CandidatePage{
			"2026/P/DEM": {1: {Results: []fec.RawCandidate{raw("P1", "A")}, Pagination: fec.Pagination{Pages: 2}}},
		},
		errs: map[string]error{"2026/P/DEM": denied},
	}
	ing, _ := newTestIngester(t, src)

	summary := ing.Run(context.Background(), NewPlan("FEC", PlanOptions{
		Cycles: []int{2026}, Offices: []string{"P"}, Parties: []string{"DEM"},
	}))

	assert.Equal(t, []int{1, 2}, src.pagesFetched("2026/P/DEM"))
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, model.ErrorPermanent, summary.Errors[0].Kind)
	assert.Equal(t, http.StatusForbidden, summary.Errors[0].Status)
}

func TestRun_RecordWithoutIdentifierIsRejected(t *testing.T) {
	noID := raw("", "NO ID, PERSON")
	src := &scriptedSource{pages: map[string]map[int]*fec.CandidatePage{
		"2026/H/DEM": {1: {Results: []fec.RawCandidate{raw("H1", "A"), noID, raw("H2", "B")}}},
	}}
	ing, st := newTestIngester(t, src)

	summary := ing.Run(context.Background(), NewPlan("FEC", PlanOptions{
		Cycles: []int{2026}, Offices: []string{"H"}, Parties: []string{"DEM"},
	}))

	assert.Equal(t, 2, countCandidates(t, st))
	assert.Equal(t, 3, summary.Count(CountSeen))
	assert.Equal(t, 1, summary.Count(CountRejected))
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "FEC record NO ID, PERSON", summary.Errors[0].Unit)
	assert.Equal(t, model.ErrorPermanent, summary.Errors[0].Kind)
}

func TestRun_CancelledContext(t *testing.T) {
	src := &scriptedSource{}
	ing, st := newTestIngester(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := ing.Run(ctx, NewPlan("FEC", PlanOptions{Cycles: []int{2026}, Offices: []string{"H"}}))

	assert.Empty(t, src.calls)
	assert.Equal(t, 0, summary.Count(CountQueries))
	require.Len(t, summary.Errors, 1)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Job: Job})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
}

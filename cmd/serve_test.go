package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampersand-strategies/candidate-tracker/internal/config"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

// fakeJobs records calls. When gate is set, ingest blocks until it closes.
type fakeJobs struct {
	ingests  atomic.Int32
	enriches atomic.Int32
	lastReq  atomic.Value
	gate     chan struct{}
}

func (f *fakeJobs) ingest(_ context.Context, req ingestRequest) *model.Summary {
	f.ingests.Add(1)
	f.lastReq.Store(req)
	if f.gate != nil {
		<-f.gate
	}
	s := model.NewSummary("ingest")
	s.Add("inserted", 2)
	return s.Finish()
}

func (f *fakeJobs) enrich(_ context.Context, req enrichRequest) *model.Summary {
	f.enriches.Add(1)
	f.lastReq.Store(req)
	return model.NewSummary("enrich").Finish()
}

func (f *fakeJobs) sync(_ context.Context, target string) (*model.Summary, error) {
	if target != "airtable" && target != "" {
		return nil, eris.Errorf("unknown sync target %q", target)
	}
	return model.NewSummary("sync").Finish(), nil
}

func newTestRouter(t *testing.T, jobs jobAPI) (http.Handler, store.Store) {
	t.Helper()
	st, err := openStore(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return buildRouter(context.Background(), jobs, st, config.MonitoringConfig{LookbackWindowHours: 24}), st
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t, &fakeJobs{})

	rr := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestRouter(t, &fakeJobs{})

	rr := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRouter_IngestState(t *testing.T) {
	jobs := &fakeJobs{}
	h, _ := newTestRouter(t, jobs)

	rr := do(h, http.MethodPost, "/ingest/state/wa", `{"cycles":[2028]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	req := jobs.lastReq.Load().(ingestRequest)
	assert.Equal(t, "WA", req.State)
	assert.Equal(t, []int{2028}, req.Cycles)

	var s model.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, 2, s.Count("inserted"))
}

func TestRouter_IngestBackfill_EmptyBody(t *testing.T) {
	jobs := &fakeJobs{}
	h, _ := newTestRouter(t, jobs)

	rr := do(h, http.MethodPost, "/ingest/backfill", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int32(1), jobs.ingests.Load())
	assert.Equal(t, ingestRequest{}, jobs.lastReq.Load().(ingestRequest))
}

func TestRouter_InvalidBody(t *testing.T) {
	jobs := &fakeJobs{}
	h, _ := newTestRouter(t, jobs)

	rr := do(h, http.MethodPost, "/enrich", `{"limit":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, int32(0), jobs.enriches.Load())
}

func TestRouter_Enrich(t *testing.T) {
	jobs := &fakeJobs{}
	h, _ := newTestRouter(t, jobs)

	rr := do(h, http.MethodPost, "/enrich", `{"limit":10,"all":true,"max_batches":3}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, enrichRequest{Limit: 10, All: true, MaxBatches: 3}, jobs.lastReq.Load().(enrichRequest))
}

func TestRouter_SyncUnknownTarget(t *testing.T) {
	h, _ := newTestRouter(t, &fakeJobs{})

	rr := do(h, http.MethodPost, "/sync?target=salesforce", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown sync target")

	rr = do(h, http.MethodPost, "/sync", `{"target":"airtable"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_ConcurrentIdenticalRequestsShareOneRun(t *testing.T) {
	jobs := &fakeJobs{gate: make(chan struct{})}
	h, _ := newTestRouter(t, jobs)

	const callers = 4
	var wg sync.WaitGroup
	codes := make([]int, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = do(h, http.MethodPost, "/ingest/backfill", `{"cycles":[2026]}`).Code
		}()
	}

	// Let every caller reach the shared flight before releasing the job.
	require.Eventually(t, func() bool { return jobs.ingests.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(jobs.gate)
	wg.Wait()

	assert.Equal(t, int32(1), jobs.ingests.Load())
	for _, c := range codes {
		assert.Equal(t, http.StatusOK, c)
	}
}

func TestRouter_StatusAndViability(t *testing.T) {
	h, st := newTestRouter(t, &fakeJobs{})
	ctx := context.Background()

	c := &model.Candidate{
		Name: "SMITH, ADAM", Party: "DEM", Level: model.LevelFederal, State: "WA",
		Office: "House", Cycle: 2026, Origin: "FEC", OriginID: model.StringPtr("H6WA09001"),
		MatchKey: "SMITH ADAM|WA|HOUSE||2026",
	}
	require.NoError(t, st.InsertCandidate(ctx, c))

	rr := do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var report statusReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Enrichment[model.StateUnenriched])
	assert.Equal(t, 1, report.Parties["DEM"])
	require.NotNil(t, report.Health)
	assert.Equal(t, 1, report.Health.Unenriched)

	rr = do(h, http.MethodPut, "/candidates/"+c.ID+"/viability", `{"score":0.8,"bucket":"likely"}`)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	got, err := st.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ViabilityScore)
	assert.InDelta(t, 0.8, *got.ViabilityScore, 1e-9)

	rr = do(h, http.MethodPut, "/candidates/missing/viability", `{"score":0.1}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_ListAndGetCandidates(t *testing.T) {
	h, st := newTestRouter(t, &fakeJobs{})
	ctx := context.Background()

	wa := &model.Candidate{
		Name: "SMITH, ADAM", Party: "DEM", Level: model.LevelFederal, State: "WA",
		Office: "House", Cycle: 2026, Origin: "FEC", OriginID: model.StringPtr("H6WA09001"),
		MatchKey: "SMITH ADAM|WA|HOUSE||2026",
	}
	or := &model.Candidate{
		Name: "DOE, JANE", Party: "REP", Level: model.LevelFederal, State: "OR",
		Office: "House", Cycle: 2026, Origin: "FEC", OriginID: model.StringPtr("H6OR05001"),
		MatchKey: "DOE JANE|OR|HOUSE||2026",
	}
	require.NoError(t, st.InsertCandidate(ctx, wa))
	require.NoError(t, st.InsertCandidate(ctx, or))

	var list struct {
		Candidates []model.Candidate `json:"candidates"`
		Limit      int               `json:"limit"`
	}
	rr := do(h, http.MethodGet, "/candidates?state=wa&cycle=2026", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, wa.ID, list.Candidates[0].ID)
	assert.Equal(t, defaultListLimit, list.Limit)

	rr = do(h, http.MethodGet, "/candidates?enrichment=unenriched&limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list.Candidates, 1)

	rr = do(h, http.MethodGet, "/candidates?party=GRN", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"candidates":[]`)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/candidates?cycle=next", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/candidates?enrichment=done", "").Code)

	rr = do(h, http.MethodGet, "/candidates/"+or.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Candidate
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "DOE, JANE", got.Name)
	assert.Equal(t, "H6OR05001", got.OriginIDValue())

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/candidates/missing", "").Code)
}

func TestCandidateFilter_CapsLimit(t *testing.T) {
	f, err := candidateFilter(url.Values{"limit": {"50000"}, "offset": {"20"}, "origin": {"FEC"}})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, f.Limit)
	assert.Equal(t, 20, f.Offset)
	assert.Equal(t, "FEC", f.Origin)

	_, err = candidateFilter(url.Values{"offset": {"-1"}})
	assert.Error(t, err)
}

func TestRouter_CORS(t *testing.T) {
	h, _ := newTestRouter(t, &fakeJobs{})

	req := httptest.NewRequest(http.MethodOptions, "/enrich", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func fecCandidate(originID, name, party string) *model.Candidate {
	return &model.Candidate{
		Name:         name,
		Party:        party,
		Level:        model.LevelFederal,
		Jurisdiction: "United States",
		State:        "WA",
		Office:       "House",
		District:     "09",
		Cycle:        2026,
		Origin:       "FEC",
		OriginID:     model.StringPtr(originID),
		MatchKey:     name + "|WA|HOUSE|09|2026",
	}
}

func period(s string) time.Time {
	t, _ := time.Parse(model.PeriodLayout, s)
	return t
}

// --- Candidates ---

func TestSQLite_InsertAndFindByOriginID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := fecCandidate("H6WA09001", "SMITH, ADAM", "DEM")
	c.Incumbent = true
	require.NoError(t, st.InsertCandidate(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := st.FindByOriginID(ctx, "FEC", "H6WA09001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "SMITH, ADAM", got.Name)
	assert.Equal(t, model.LevelFederal, got.Level)
	assert.True(t, got.Incumbent)
	assert.Equal(t, model.StateUnenriched, got.Enrichment())
	assert.Nil(t, got.ViabilityScore)
}

func TestSQLite_FindByOriginID_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.FindByOriginID(context.Background(), "FEC", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_InsertCandidate_DuplicateOriginID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertCandidate(ctx, fecCandidate("H6WA09001", "SMITH, ADAM", "DEM")))
	err := st.InsertCandidate(ctx, fecCandidate("H6WA09001", "SMITH, ADAM J", "DEM"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestSQLite_InsertCandidate_NullOriginIDsDoNotCollide(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := fecCandidate("", "DOE, JANE", "IND")
	b := fecCandidate("", "ROE, RICHARD", "IND")
	require.NoError(t, st.InsertCandidate(ctx, a))
	require.NoError(t, st.InsertCandidate(ctx, b))

	got, err := st.FindByMatchKey(ctx, "FEC", a.MatchKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.HasOriginID())

	// Same match key without an identifier is the same person.
	err = st.InsertCandidate(ctx, fecCandidate("", "DOE, JANE", "IND"))
	assert.True(t, errors.Is(err, ErrDuplicate))
}

func TestSQLite_GetCandidate_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetCandidate(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListCandidates_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertCandidate(ctx, fecCandidate("H1", "A", "DEM")))
	require.NoError(t, st.InsertCandidate(ctx, fecCandidate("H2", "B", "IND")))
	other := fecCandidate("H3", "C", "DEM")
	other.Cycle = 2028
	other.State = "OR"
	require.NoError(t, st.InsertCandidate(ctx, other))

	all, err := st.ListCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	dems, err := st.ListCandidates(ctx, CandidateFilter{Party: "DEM"})
	require.NoError(t, err)
	assert.Len(t, dems, 2)

	wa2026, err := st.ListCandidates(ctx, CandidateFilter{State: "WA", Cycle: 2026})
	require.NoError(t, err)
	assert.Len(t, wa2026, 2)

	page, err := st.ListCandidates(ctx, CandidateFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "B", page[0].Name)
}

func TestSQLite_ListUnenriched_SkipsMissingOriginID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertCandidate(ctx, fecCandidate("H1", "A", "DEM")))
	require.NoError(t, st.InsertCandidate(ctx, fecCandidate("", "B", "DEM")))

	got, err := st.ListUnenriched(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Name)
}

func TestSQLite_SetSponsor_NeverRevertsOrOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := fecCandidate("H1", "A", "DEM")
	require.NoError(t, st.InsertCandidate(ctx, c))

	changed, err := st.SetSponsor(ctx, c.ID, "C00000001")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = st.SetSponsor(ctx, c.ID, model.SponsorNone)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := st.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateSponsorResolved, got.Enrichment())
	assert.Equal(t, "C00000001", got.SponsorIDValue())

	unenriched, err := st.ListUnenriched(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, unenriched)

	resolved, err := st.ListSponsorResolved(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, resolved, 1)
}

func TestSQLite_CountByStateAndParty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := fecCandidate("H1", "A", "DEM")
	b := fecCandidate("H2", "B", "DEM")
	c := fecCandidate("H3", "C", "IND")
	for _, x := range []*model.Candidate{a, b, c} {
		require.NoError(t, st.InsertCandidate(ctx, x))
	}
	_, err := st.SetSponsor(ctx, a.ID, "C1")
	require.NoError(t, err)
	_, err = st.SetSponsor(ctx, b.ID, model.SponsorNone)
	require.NoError(t, err)

	states, err := st.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, states[model.StateUnenriched])
	assert.Equal(t, 1, states[model.StateSponsorResolved])
	assert.Equal(t, 1, states[model.StateSponsorNone])

	parties, err := st.CountByParty(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"DEM": 2, "IND": 1}, parties)
}

func TestSQLite_PurgeCandidates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	keep := fecCandidate("H1", "A", "DEM")
	keep.Cycle = 2024
	drop := fecCandidate("H2", "B", "DEM")
	require.NoError(t, st.InsertCandidate(ctx, keep))
	require.NoError(t, st.InsertCandidate(ctx, drop))
	require.NoError(t, st.AppendDisclosure(ctx, &model.Disclosure{
		CandidateID: drop.ID, SponsorID: "C2", PeriodEnd: period("2026-06-30"),
	}))

	_, err := st.PurgeCandidates(ctx, PurgeFilter{})
	assert.Error(t, err)

	n, err := st.PurgeCandidates(ctx, PurgeFilter{Origin: "FEC", Cycle: 2026})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := st.ListCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, keep.ID, left[0].ID)

	ds, err := st.ListDisclosures(ctx, DisclosureFilter{})
	require.NoError(t, err)
	assert.Empty(t, ds)
}

// --- Disclosures ---

func TestSQLite_AppendDisclosure_UniquePerPeriod(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := fecCandidate("H1", "A", "DEM")
	require.NoError(t, st.InsertCandidate(ctx, c))

	d := &model.Disclosure{
		CandidateID: c.ID, SponsorID: "C1", PeriodEnd: period("2026-06-30"),
		ReportType: "Q2", Receipts: 1500.5, Disbursements: 200, CashOnHand: 1300.5,
	}
	require.NoError(t, st.AppendDisclosure(ctx, d))

	has, err := st.HasDisclosure(ctx, c.ID, period("2026-06-30"))
	require.NoError(t, err)
	assert.True(t, has)

	has, err = st.HasDisclosure(ctx, c.ID, period("2026-03-31"))
	require.NoError(t, err)
	assert.False(t, has)

	err = st.AppendDisclosure(ctx, &model.Disclosure{CandidateID: c.ID, SponsorID: "C1", PeriodEnd: period("2026-06-30")})
	assert.True(t, errors.Is(err, ErrDuplicate))

	require.NoError(t, st.AppendDisclosure(ctx, &model.Disclosure{CandidateID: c.ID, SponsorID: "C1", PeriodEnd: period("2026-03-31")}))

	ds, err := st.ListDisclosures(ctx, DisclosureFilter{CandidateID: c.ID})
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "2026-03-31", ds[0].PeriodKey())
	assert.Equal(t, "2026-06-30", ds[1].PeriodKey())
	assert.InDelta(t, 1500.5, ds[1].Receipts, 0.001)
	assert.Equal(t, "Q2", ds[1].ReportType)
}

// --- Run ledger ---

func TestSQLite_RunLedger(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.StartRun(ctx, "ingest")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	sum := model.NewSummary("ingest")
	sum.Add("inserted", 3)
	require.NoError(t, st.CompleteRun(ctx, run.ID, sum.Finish()))

	failed, err := st.StartRun(ctx, "sync")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, failed.ID, "downstream unreachable"))

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	ingest, err := st.ListRuns(ctx, RunFilter{Job: "ingest"})
	require.NoError(t, err)
	require.Len(t, ingest, 1)
	assert.Equal(t, model.RunStatusComplete, ingest[0].Status)
	require.NotNil(t, ingest[0].Summary)
	assert.Equal(t, 3, ingest[0].Summary.Count("inserted"))
	assert.NotNil(t, ingest[0].CompletedAt)

	syncRuns, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, syncRuns, 1)
	assert.Equal(t, "downstream unreachable", syncRuns[0].Error)

	assert.True(t, errors.Is(st.FailRun(ctx, "missing", "x"), ErrNotFound))
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_UpdateViability(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := fecCandidate("H1", "A", "DEM")
	require.NoError(t, st.InsertCandidate(ctx, c))

	score, bucket := 0.72, "likely"
	require.NoError(t, st.UpdateViability(ctx, c.ID, &score, &bucket))

	got, err := st.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ViabilityScore)
	assert.InDelta(t, 0.72, *got.ViabilityScore, 1e-9)
	assert.Equal(t, "likely", *got.ViabilityBucket)
	assert.Equal(t, model.StateUnenriched, got.Enrichment())

	require.NoError(t, st.UpdateViability(ctx, c.ID, nil, nil))
	got, err = st.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ViabilityScore)
	assert.Nil(t, got.ViabilityBucket)

	err = st.UpdateViability(ctx, "missing", &score, &bucket)
	assert.True(t, errors.Is(err, ErrNotFound))
}

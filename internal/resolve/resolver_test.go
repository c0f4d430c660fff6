package resolve

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "resolve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	m, err := LoadMappings()
	require.NoError(t, err)
	return New(st, m), st
}

func fecRaw(id, name string) map[string]any {
	return map[string]any{
		"candidate_id": id,
		"name":         name,
		"party":        "DEM",
		"state":        "WA",
		"office_full":  "House",
		"district":     "09",
	}
}

func TestResolve_InsertThenSkip(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	outcome, c, err := r.Resolve(ctx, "FEC", fecRaw("H6WA09001", "SMITH, ADAM"), 2026)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.ID)

	// Same identifier with changed attributes: first write wins.
	outcome, existing, err := r.Resolve(ctx, "FEC", fecRaw("H6WA09001", "SMITH, ADAM J."), 2026)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, c.ID, existing.ID)
	assert.Equal(t, "SMITH, ADAM", existing.Name)

	all, err := st.ListCandidates(ctx, store.CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolve_IdempotentAcrossRuns(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	batch := []map[string]any{
		fecRaw("H6WA09001", "SMITH, ADAM"),
		fecRaw("H6WA09002", "DOE, JANE"),
		fecRaw("H6WA09003", "ROE, RICHARD"),
	}
	for range 2 {
		for _, raw := range batch {
			_, _, err := r.Resolve(ctx, "FEC", raw, 2026)
			require.NoError(t, err)
		}
	}

	all, err := st.ListCandidates(ctx, store.CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestResolve_NoIdentifierRefused(t *testing.T) {
	r, st := newTestResolver(t)

	raw := fecRaw("", "SMITH, ADAM")
	_, c, err := r.Resolve(context.Background(), "FEC", raw, 2026)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoIdentifier))
	assert.Nil(t, c)

	all, err := st.ListCandidates(context.Background(), store.CandidateFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestResolve_MatchKeyStrategy(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	raw := map[string]any{"filer_name": "Jane Doe", "office": "State Senator", "legislative_district": "36"}
	outcome, first, err := r.Resolve(ctx, "WA_PDC", raw, 2026)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	respelled := map[string]any{"filer_name": "DOE,  JANE", "office": "state senator", "legislative_district": 36.0}
	outcome, again, err := r.Resolve(ctx, "WA_PDC", map[string]any{
		"filer_name": "Jane Doe", "office": "State Senator", "legislative_district": "36",
	}, 2026)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, first.ID, again.ID)

	// Name order differs, so the heuristic treats it as someone else.
	outcome, _, err = r.Resolve(ctx, "WA_PDC", respelled, 2026)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)
}

func TestResolve_RejectsBadInput(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	_, _, err := r.Resolve(ctx, "NOPE", fecRaw("H1", "A"), 2026)
	assert.True(t, errors.Is(err, ErrUnknownOrigin))

	_, _, err = r.Resolve(ctx, "FEC", fecRaw("H1", ""), 2026)
	assert.True(t, errors.Is(err, ErrIncomplete))

	_, _, err = r.Resolve(ctx, "FEC", fecRaw("H1", "A"), 0)
	assert.True(t, errors.Is(err, ErrIncomplete))
}

// racingStore reports "not found" on lookup but a duplicate on insert,
// as happens when another writer inserts in between.
type racingStore struct {
	inserts int
}

func (s *racingStore) FindByOriginID(context.Context, string, string) (*model.Candidate, error) {
	return nil, nil
}

func (s *racingStore) FindByMatchKey(context.Context, string, string) (*model.Candidate, error) {
	return nil, nil
}

func (s *racingStore) InsertCandidate(context.Context, *model.Candidate) error {
	s.inserts++
	return store.ErrDuplicate
}

func TestResolve_LostRaceIsBenign(t *testing.T) {
	m, err := LoadMappings()
	require.NoError(t, err)
	st := &racingStore{}

	outcome, c, err := New(st, m).Resolve(context.Background(), "FEC", fecRaw("H1", "A"), 2026)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Nil(t, c)
	assert.Equal(t, 1, st.inserts)
}

type brokenStore struct{ racingStore }

func (s *brokenStore) FindByOriginID(context.Context, string, string) (*model.Candidate, error) {
	return nil, errors.New("database is locked")
}

func TestResolve_LookupError(t *testing.T) {
	m, err := LoadMappings()
	require.NoError(t, err)
	st := &brokenStore{}

	_, _, err = New(st, m).Resolve(context.Background(), "FEC", fecRaw("H1", "A"), 2026)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Zero(t, st.inserts)
}

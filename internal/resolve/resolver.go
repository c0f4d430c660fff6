// Package resolve turns raw origin records into candidates, inserting each
// real-world candidate at most once.
package resolve

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

var (
	// ErrUnknownOrigin means no mapping table exists for the origin tag.
	ErrUnknownOrigin = errors.New("resolve: unknown origin")
	// ErrNoIdentifier means an identifier-keyed origin sent a record
	// without its identifier. Such records are not ingested.
	ErrNoIdentifier = errors.New("resolve: record has no origin identifier")
	// ErrIncomplete means the record lacks a mandatory attribute.
	ErrIncomplete = errors.New("resolve: record is missing required attributes")
)

// Outcome is what Resolve did with a record.
type Outcome string

const (
	// OutcomeInserted means a new candidate was stored.
	OutcomeInserted Outcome = "inserted"
	// OutcomeSkipped means the candidate already existed; nothing changed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDuplicate means a concurrent writer stored the same candidate
	// between lookup and insert.
	OutcomeDuplicate Outcome = "duplicate"
)

// CandidateStore is the slice of store.Store the resolver needs.
type CandidateStore interface {
	FindByOriginID(ctx context.Context, origin, originID string) (*model.Candidate, error)
	FindByMatchKey(ctx context.Context, origin, matchKey string) (*model.Candidate, error)
	InsertCandidate(ctx context.Context, c *model.Candidate) error
}

// Resolver deduplicates incoming records against the local store.
// First write wins: an existing candidate is never updated.
type Resolver struct {
	store    CandidateStore
	mappings Mappings
	log      *zap.Logger
}

// New creates a Resolver.
func New(st CandidateStore, mappings Mappings) *Resolver {
	return &Resolver{
		store:    st,
		mappings: mappings,
		log:      zap.L().With(zap.String("component", "resolve")),
	}
}

// Resolve maps raw through the origin's table and inserts it unless the
// candidate is already known. The returned candidate is the stored row for
// skips and the newly inserted row for inserts.
func (r *Resolver) Resolve(ctx context.Context, origin string, raw map[string]any, cycle int) (Outcome, *model.Candidate, error) {
	m, ok := r.mappings[origin]
	if !ok {
		return "", nil, eris.Wrapf(ErrUnknownOrigin, "origin %q", origin)
	}
	if cycle <= 0 {
		return "", nil, eris.Wrapf(ErrIncomplete, "cycle %d", cycle)
	}

	c := m.Candidate(raw, cycle)
	if c.Name == "" {
		return "", nil, eris.Wrapf(ErrIncomplete, "%s record without %s", origin, AttrName)
	}

	key := KeyOf(origin, c)
	if !key.HasID() && m.Strategy == StrategyIdentifier {
		return "", nil, eris.Wrapf(ErrNoIdentifier, "%s record %q", origin, c.Name)
	}

	existing, err := r.lookup(ctx, key, c)
	if err != nil {
		return "", nil, eris.Wrapf(err, "resolve: lookup %s", key)
	}
	if existing != nil {
		return OutcomeSkipped, existing, nil
	}

	if err := r.store.InsertCandidate(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			r.log.Debug("lost insert race", zap.Stringer("key", key), zap.String("match_key", c.MatchKey))
			return OutcomeDuplicate, nil, nil
		}
		return "", nil, eris.Wrapf(err, "resolve: insert %s", key)
	}
	return OutcomeInserted, c, nil
}

func (r *Resolver) lookup(ctx context.Context, key Key, c *model.Candidate) (*model.Candidate, error) {
	if key.HasID() {
		return r.store.FindByOriginID(ctx, key.Origin, *key.OriginID)
	}
	return r.store.FindByMatchKey(ctx, key.Origin, c.MatchKey)
}

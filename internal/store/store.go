package store

import (
	"context"
	"errors"
	"time"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

var (
	// ErrDuplicate reports a unique-constraint violation. Callers treat it
	// as "someone else already wrote this row".
	ErrDuplicate = errors.New("store: duplicate")
	// ErrNotFound reports a point lookup that matched nothing.
	ErrNotFound = errors.New("store: not found")
)

// CandidateFilter specifies criteria for listing candidates. Zero values
// mean "any".
type CandidateFilter struct {
	Origin       string                `json:"origin,omitempty"`
	Cycle        int                   `json:"cycle,omitempty"`
	State        string                `json:"state,omitempty"`
	Party        string                `json:"party,omitempty"`
	Enrichment   model.EnrichmentState `json:"enrichment,omitempty"`
	WithOriginID bool                  `json:"with_origin_id,omitempty"`
	Limit        int                   `json:"limit,omitempty"`
	Offset       int                   `json:"offset,omitempty"`
}

// PurgeFilter scopes the administrative purge. Origin is required.
type PurgeFilter struct {
	Origin string
	Cycle  int
}

// DisclosureFilter specifies criteria for listing disclosures.
type DisclosureFilter struct {
	CandidateID string
	Limit       int
	Offset      int
}

// RunFilter specifies criteria for listing ledger runs.
type RunFilter struct {
	Job    string          `json:"job,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for candidates, disclosures and
// the run ledger. It is the single writer of local state.
type Store interface {
	// Candidates. The Find methods return (nil, nil) when nothing matches;
	// FindByMatchKey only considers rows without an origin identifier.
	FindByOriginID(ctx context.Context, origin, originID string) (*model.Candidate, error)
	FindByMatchKey(ctx context.Context, origin, matchKey string) (*model.Candidate, error)
	InsertCandidate(ctx context.Context, c *model.Candidate) error
	GetCandidate(ctx context.Context, id string) (*model.Candidate, error)
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error)
	ListUnenriched(ctx context.Context, limit, offset int) ([]model.Candidate, error)
	ListSponsorResolved(ctx context.Context, limit, offset int) ([]model.Candidate, error)
	SetSponsor(ctx context.Context, candidateID, sponsorID string) (bool, error)
	// UpdateViability stores an externally computed score; nil clears it.
	UpdateViability(ctx context.Context, candidateID string, score *float64, bucket *string) error
	PurgeCandidates(ctx context.Context, filter PurgeFilter) (int64, error)
	CountByState(ctx context.Context) (map[model.EnrichmentState]int, error)
	CountByParty(ctx context.Context) (map[string]int, error)

	// Disclosures
	AppendDisclosure(ctx context.Context, d *model.Disclosure) error
	HasDisclosure(ctx context.Context, candidateID string, periodEnd time.Time) (bool, error)
	ListDisclosures(ctx context.Context, filter DisclosureFilter) ([]model.Disclosure, error)

	// Run ledger
	StartRun(ctx context.Context, job string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.Summary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

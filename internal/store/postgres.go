package store

import (
	"context"
	"embed"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ampersand-strategies/candidate-tracker/internal/db"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var pg = sqlbuilder.PostgreSQL

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// A single worker drives each invocation; a small pool is plenty.
	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return db.Migrate(ctx, s.pool, migrationFS, "migrations")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FindByOriginID(ctx context.Context, origin, originID string) (*model.Candidate, error) {
	query, args := findCandidateSQL(pg, byOriginID(origin, originID))
	c, err := scanCandidate(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find candidate %s/%s", origin, originID)
	}
	return c, nil
}

func (s *PostgresStore) FindByMatchKey(ctx context.Context, origin, matchKey string) (*model.Candidate, error) {
	query, args := findCandidateSQL(pg, byMatchKey(origin, matchKey))
	c, err := scanCandidate(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find candidate by match key %s", matchKey)
	}
	return c, nil
}

func (s *PostgresStore) InsertCandidate(ctx context.Context, c *model.Candidate) error {
	stampCandidate(c)
	query, args := insertCandidateSQL(pg, c)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicate, "postgres: insert candidate %s", c.MatchKey)
		}
		return eris.Wrap(err, "postgres: insert candidate")
	}
	return nil
}

func (s *PostgresStore) GetCandidate(ctx context.Context, id string) (*model.Candidate, error) {
	query, args := findCandidateSQL(pg, byID(id))
	c, err := scanCandidate(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get candidate %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get candidate %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	query, args := listCandidatesSQL(pg, filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

func (s *PostgresStore) ListUnenriched(ctx context.Context, limit, offset int) ([]model.Candidate, error) {
	return s.ListCandidates(ctx, unenrichedFilter(limit, offset))
}

func (s *PostgresStore) ListSponsorResolved(ctx context.Context, limit, offset int) ([]model.Candidate, error) {
	return s.ListCandidates(ctx, sponsorResolvedFilter(limit, offset))
}

func (s *PostgresStore) SetSponsor(ctx context.Context, candidateID, sponsorID string) (bool, error) {
	query, args := setSponsorSQL(pg, candidateID, sponsorID, time.Now().UTC())
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set sponsor %s", candidateID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpdateViability(ctx context.Context, candidateID string, score *float64, bucket *string) error {
	query, args := updateViabilitySQL(pg, candidateID, score, bucket, time.Now().UTC())
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update viability %s", candidateID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update viability %s", candidateID)
	}
	return nil
}

func (s *PostgresStore) PurgeCandidates(ctx context.Context, filter PurgeFilter) (int64, error) {
	if filter.Origin == "" {
		return 0, eris.New("postgres: purge requires an origin")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query, args := purgeDisclosuresSQL(pg, filter)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return 0, eris.Wrap(err, "postgres: purge disclosures")
	}
	query, args = purgeCandidatesSQL(pg, filter)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge candidates")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: purge commit")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountByState(ctx context.Context) (map[model.EnrichmentState]int, error) {
	rows, err := s.pool.Query(ctx, countByStateSQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by state")
	}
	defer rows.Close()

	counts := map[model.EnrichmentState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state count")
		}
		counts[model.EnrichmentState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by state iterate")
}

func (s *PostgresStore) CountByParty(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, countByPartySQL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by party")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var party string
		var n int
		if err := rows.Scan(&party, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan party count")
		}
		counts[party] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by party iterate")
}

func (s *PostgresStore) AppendDisclosure(ctx context.Context, d *model.Disclosure) error {
	stampDisclosure(d)
	query, args := insertDisclosureSQL(pg, d, d.PeriodEnd)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicate, "postgres: append disclosure %s/%s", d.CandidateID, d.PeriodKey())
		}
		return eris.Wrap(err, "postgres: append disclosure")
	}
	return nil
}

func (s *PostgresStore) HasDisclosure(ctx context.Context, candidateID string, periodEnd time.Time) (bool, error) {
	query, args := hasDisclosureSQL(pg, candidateID, periodEnd)
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return false, eris.Wrapf(err, "postgres: has disclosure %s", candidateID)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListDisclosures(ctx context.Context, filter DisclosureFilter) ([]model.Disclosure, error) {
	query, args := listDisclosuresSQL(pg, filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list disclosures")
	}
	defer rows.Close()

	var out []model.Disclosure
	for rows.Next() {
		var d model.Disclosure
		if err := rows.Scan(&d.ID, &d.CandidateID, &d.SponsorID, &d.PeriodEnd, &d.ReportType,
			&d.Receipts, &d.Disbursements, &d.CashOnHand, &d.DocumentURL, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan disclosure")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list disclosures iterate")
}

func (s *PostgresStore) StartRun(ctx context.Context, job string) (*model.Run, error) {
	r := newRun(job)
	query, args := insertRunSQL(pg, r)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return nil, eris.Wrapf(err, "postgres: start run %s", job)
	}
	return r, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	query, args := finishRunSQL(pg, runID, model.RunStatusComplete, time.Now().UTC(), summaryJSON, nil)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	query, args := finishRunSQL(pg, runID, model.RunStatusFailed, time.Now().UTC(), nil, &errMsg)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query, args := listRunsSQL(pg, filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func stampCandidate(c *model.Candidate) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

func stampDisclosure(d *model.Disclosure) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
}

func newRun(job string) *model.Run {
	return &model.Run{
		ID:        uuid.New().String(),
		Job:       job,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var summaryJSON []byte
	var errStr *string
	if err := row.Scan(&r.ID, &r.Job, &status, &r.StartedAt, &r.CompletedAt, &summaryJSON, &errStr); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if errStr != nil {
		r.Error = *errStr
	}
	if len(summaryJSON) > 0 {
		r.Summary = &model.Summary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal run summary")
		}
	}
	return &r, nil
}

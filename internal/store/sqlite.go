package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var lite = sqlbuilder.SQLite

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps per-connection pragmas in force for every statement.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS candidates (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	party            TEXT NOT NULL DEFAULT '',
	party_full       TEXT NOT NULL DEFAULT '',
	level            TEXT NOT NULL DEFAULT 'federal',
	jurisdiction     TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	office           TEXT NOT NULL DEFAULT '',
	district         TEXT NOT NULL DEFAULT '',
	cycle            INTEGER NOT NULL,
	origin           TEXT NOT NULL,
	origin_id        TEXT,
	match_key        TEXT NOT NULL,
	incumbent        BOOLEAN NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT '',
	sponsor_id       TEXT,
	viability_score  REAL,
	viability_bucket TEXT,
	source_url       TEXT NOT NULL DEFAULT '',
	first_file_date  TEXT NOT NULL DEFAULT '',
	last_file_date   TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_candidates_origin_id
	ON candidates(origin, origin_id) WHERE origin_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_candidates_match_key
	ON candidates(origin, match_key) WHERE origin_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_candidates_created ON candidates(created_at, id);

CREATE TABLE IF NOT EXISTS disclosures (
	id            TEXT PRIMARY KEY,
	candidate_id  TEXT NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	sponsor_id    TEXT NOT NULL,
	period_end    TEXT NOT NULL,
	report_type   TEXT NOT NULL DEFAULT '',
	receipts      REAL NOT NULL DEFAULT 0,
	disbursements REAL NOT NULL DEFAULT 0,
	cash_on_hand  REAL NOT NULL DEFAULT 0,
	document_url  TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (candidate_id, period_end)
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           TEXT PRIMARY KEY,
	job          TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	summary      TEXT,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_log_job ON sync_log(job, started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation reports a UNIQUE or PRIMARY KEY violation.
func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) findOne(ctx context.Context, query string, args []any) (*model.Candidate, error) {
	c, err := scanCandidate(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) FindByOriginID(ctx context.Context, origin, originID string) (*model.Candidate, error) {
	query, args := findCandidateSQL(lite, byOriginID(origin, originID))
	c, err := s.findOne(ctx, query, args)
	return c, eris.Wrapf(err, "sqlite: find candidate %s/%s", origin, originID)
}

func (s *SQLiteStore) FindByMatchKey(ctx context.Context, origin, matchKey string) (*model.Candidate, error) {
	query, args := findCandidateSQL(lite, byMatchKey(origin, matchKey))
	c, err := s.findOne(ctx, query, args)
	return c, eris.Wrapf(err, "sqlite: find candidate by match key %s", matchKey)
}

func (s *SQLiteStore) InsertCandidate(ctx context.Context, c *model.Candidate) error {
	stampCandidate(c)
	query, args := insertCandidateSQL(lite, c)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isConstraintViolation(err) {
			return eris.Wrapf(ErrDuplicate, "sqlite: insert candidate %s", c.MatchKey)
		}
		return eris.Wrap(err, "sqlite: insert candidate")
	}
	return nil
}

func (s *SQLiteStore) GetCandidate(ctx context.Context, id string) (*model.Candidate, error) {
	query, args := findCandidateSQL(lite, byID(id))
	c, err := s.findOne(ctx, query, args)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get candidate %s", id)
	}
	if c == nil {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get candidate %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	query, args := listCandidatesSQL(lite, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

func (s *SQLiteStore) ListUnenriched(ctx context.Context, limit, offset int) ([]model.Candidate, error) {
	return s.ListCandidates(ctx, unenrichedFilter(limit, offset))
}

func (s *SQLiteStore) ListSponsorResolved(ctx context.Context, limit, offset int) ([]model.Candidate, error) {
	return s.ListCandidates(ctx, sponsorResolvedFilter(limit, offset))
}

func (s *SQLiteStore) SetSponsor(ctx context.Context, candidateID, sponsorID string) (bool, error) {
	query, args := setSponsorSQL(lite, candidateID, sponsorID, time.Now().UTC())
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set sponsor %s", candidateID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpdateViability(ctx context.Context, candidateID string, score *float64, bucket *string) error {
	query, args := updateViabilitySQL(lite, candidateID, score, bucket, time.Now().UTC())
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update viability %s", candidateID)
	}
	return checkRowsAffected(res, "candidate", candidateID)
}

func (s *SQLiteStore) PurgeCandidates(ctx context.Context, filter PurgeFilter) (int64, error) {
	if filter.Origin == "" {
		return 0, eris.New("sqlite: purge requires an origin")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	query, args := purgeDisclosuresSQL(lite, filter)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, eris.Wrap(err, "sqlite: purge disclosures")
	}
	query, args = purgeCandidatesSQL(lite, filter)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge candidates")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: purge commit")
	}
	return n, nil
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[model.EnrichmentState]int, error) {
	rows, err := s.db.QueryContext(ctx, countByStateSQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by state")
	}
	defer rows.Close() //nolint:errcheck

	counts := map[model.EnrichmentState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state count")
		}
		counts[model.EnrichmentState(state)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by state iterate")
}

func (s *SQLiteStore) CountByParty(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, countByPartySQL)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by party")
	}
	defer rows.Close() //nolint:errcheck

	counts := map[string]int{}
	for rows.Next() {
		var party string
		var n int
		if err := rows.Scan(&party, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan party count")
		}
		counts[party] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by party iterate")
}

func (s *SQLiteStore) AppendDisclosure(ctx context.Context, d *model.Disclosure) error {
	stampDisclosure(d)
	query, args := insertDisclosureSQL(lite, d, d.PeriodKey())
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isConstraintViolation(err) {
			return eris.Wrapf(ErrDuplicate, "sqlite: append disclosure %s/%s", d.CandidateID, d.PeriodKey())
		}
		return eris.Wrap(err, "sqlite: append disclosure")
	}
	return nil
}

func (s *SQLiteStore) HasDisclosure(ctx context.Context, candidateID string, periodEnd time.Time) (bool, error) {
	query, args := hasDisclosureSQL(lite, candidateID, periodEnd.UTC().Format(model.PeriodLayout))
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, eris.Wrapf(err, "sqlite: has disclosure %s", candidateID)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListDisclosures(ctx context.Context, filter DisclosureFilter) ([]model.Disclosure, error) {
	query, args := listDisclosuresSQL(lite, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list disclosures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Disclosure
	for rows.Next() {
		var d model.Disclosure
		var period string
		if err := rows.Scan(&d.ID, &d.CandidateID, &d.SponsorID, &period, &d.ReportType,
			&d.Receipts, &d.Disbursements, &d.CashOnHand, &d.DocumentURL, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan disclosure")
		}
		d.PeriodEnd, err = time.Parse(model.PeriodLayout, period)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse period_end %q", period)
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list disclosures iterate")
}

func (s *SQLiteStore) StartRun(ctx context.Context, job string) (*model.Run, error) {
	r := newRun(job)
	query, args := insertRunSQL(lite, r)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, eris.Wrapf(err, "sqlite: start run %s", job)
	}
	return r, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	query, args := finishRunSQL(lite, runID, model.RunStatusComplete, time.Now().UTC(), summaryJSON, nil)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	query, args := finishRunSQL(lite, runID, model.RunStatusFailed, time.Now().UTC(), nil, &errMsg)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query, args := listRunsSQL(lite, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

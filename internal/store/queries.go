package store

import (
	"github.com/huandu/go-sqlbuilder"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

// Both backends share one set of statements; only the placeholder flavor
// and the representation of period_end differ.

const defaultListLimit = 100

var candidateColumns = []string{
	"id", "name", "party", "party_full", "level", "jurisdiction", "state",
	"office", "district", "cycle", "origin", "origin_id", "match_key",
	"incumbent", "status", "sponsor_id", "viability_score", "viability_bucket",
	"source_url", "first_file_date", "last_file_date", "created_at", "updated_at",
}

var disclosureColumns = []string{
	"id", "candidate_id", "sponsor_id", "period_end", "report_type",
	"receipts", "disbursements", "cash_on_hand", "document_url", "created_at",
}

var runColumns = []string{"id", "job", "status", "started_at", "completed_at", "summary", "error"}

type scannable interface {
	Scan(dest ...any) error
}

func candidateValues(c *model.Candidate) []any {
	return []any{
		c.ID, c.Name, c.Party, c.PartyFull, string(c.Level), c.Jurisdiction, c.State,
		c.Office, c.District, c.Cycle, c.Origin, nullable(c.OriginID), c.MatchKey,
		c.Incumbent, c.Status, nullable(c.SponsorID), nullable(c.ViabilityScore), nullable(c.ViabilityBucket),
		c.SourceURL, c.FirstFileDate, c.LastFileDate, c.CreatedAt, c.UpdatedAt,
	}
}

// nullable dereferences p for the driver, mapping nil to SQL NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func scanCandidate(row scannable) (*model.Candidate, error) {
	var c model.Candidate
	var level string
	err := row.Scan(
		&c.ID, &c.Name, &c.Party, &c.PartyFull, &level, &c.Jurisdiction, &c.State,
		&c.Office, &c.District, &c.Cycle, &c.Origin, &c.OriginID, &c.MatchKey,
		&c.Incumbent, &c.Status, &c.SponsorID, &c.ViabilityScore, &c.ViabilityBucket,
		&c.SourceURL, &c.FirstFileDate, &c.LastFileDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Level = model.Level(level)
	return &c, nil
}

func insertCandidateSQL(f sqlbuilder.Flavor, c *model.Candidate) (string, []any) {
	ib := f.NewInsertBuilder()
	ib.InsertInto("candidates")
	ib.Cols(candidateColumns...)
	ib.Values(candidateValues(c)...)
	return ib.Build()
}

func findCandidateSQL(f sqlbuilder.Flavor, where func(sb *sqlbuilder.SelectBuilder) []string) (string, []any) {
	sb := f.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From("candidates")
	sb.Where(where(sb)...)
	sb.Limit(1)
	return sb.Build()
}

func byOriginID(origin, originID string) func(sb *sqlbuilder.SelectBuilder) []string {
	return func(sb *sqlbuilder.SelectBuilder) []string {
		return []string{sb.Equal("origin", origin), sb.Equal("origin_id", originID)}
	}
}

func byMatchKey(origin, matchKey string) func(sb *sqlbuilder.SelectBuilder) []string {
	return func(sb *sqlbuilder.SelectBuilder) []string {
		return []string{sb.Equal("origin", origin), sb.Equal("match_key", matchKey), sb.IsNull("origin_id")}
	}
}

func byID(id string) func(sb *sqlbuilder.SelectBuilder) []string {
	return func(sb *sqlbuilder.SelectBuilder) []string {
		return []string{sb.Equal("id", id)}
	}
}

func listCandidatesSQL(f sqlbuilder.Flavor, filter CandidateFilter) (string, []any) {
	sb := f.NewSelectBuilder()
	sb.Select(candidateColumns...)
	sb.From("candidates")

	var where []string
	if filter.Origin != "" {
		where = append(where, sb.Equal("origin", filter.Origin))
	}
	if filter.Cycle != 0 {
		where = append(where, sb.Equal("cycle", filter.Cycle))
	}
	if filter.State != "" {
		where = append(where, sb.Equal("state", filter.State))
	}
	if filter.Party != "" {
		where = append(where, sb.Equal("party", filter.Party))
	}
	if filter.WithOriginID {
		where = append(where, sb.IsNotNull("origin_id"))
	}
	switch filter.Enrichment {
	case model.StateUnenriched:
		where = append(where, sb.IsNull("sponsor_id"))
	case model.StateSponsorNone:
		where = append(where, sb.Equal("sponsor_id", model.SponsorNone))
	case model.StateSponsorResolved:
		where = append(where, sb.IsNotNull("sponsor_id"), sb.NotEqual("sponsor_id", model.SponsorNone))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}

	sb.OrderBy("created_at", "id")
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	sb.Limit(limit)
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}
	return sb.Build()
}

func unenrichedFilter(limit, offset int) CandidateFilter {
	return CandidateFilter{Enrichment: model.StateUnenriched, WithOriginID: true, Limit: limit, Offset: offset}
}

func sponsorResolvedFilter(limit, offset int) CandidateFilter {
	return CandidateFilter{Enrichment: model.StateSponsorResolved, WithOriginID: true, Limit: limit, Offset: offset}
}

// setSponsorSQL only touches unenriched rows, so the state can never move
// backwards.
func setSponsorSQL(f sqlbuilder.Flavor, candidateID, sponsorID string, now any) (string, []any) {
	ub := f.NewUpdateBuilder()
	ub.Update("candidates")
	ub.Set(
		ub.Assign("sponsor_id", sponsorID),
		ub.Assign("updated_at", now),
	)
	ub.Where(ub.Equal("id", candidateID), ub.IsNull("sponsor_id"))
	return ub.Build()
}

func updateViabilitySQL(f sqlbuilder.Flavor, candidateID string, score *float64, bucket *string, now any) (string, []any) {
	ub := f.NewUpdateBuilder()
	ub.Update("candidates")
	ub.Set(
		ub.Assign("viability_score", nullable(score)),
		ub.Assign("viability_bucket", nullable(bucket)),
		ub.Assign("updated_at", now),
	)
	ub.Where(ub.Equal("id", candidateID))
	return ub.Build()
}

func purgeScope(f sqlbuilder.Flavor, filter PurgeFilter) *sqlbuilder.SelectBuilder {
	sb := f.NewSelectBuilder()
	sb.Select("id")
	sb.From("candidates")
	where := []string{sb.Equal("origin", filter.Origin)}
	if filter.Cycle != 0 {
		where = append(where, sb.Equal("cycle", filter.Cycle))
	}
	sb.Where(where...)
	return sb
}

func purgeDisclosuresSQL(f sqlbuilder.Flavor, filter PurgeFilter) (string, []any) {
	del := f.NewDeleteBuilder()
	del.DeleteFrom("disclosures")
	del.Where(del.In("candidate_id", purgeScope(f, filter)))
	return del.Build()
}

func purgeCandidatesSQL(f sqlbuilder.Flavor, filter PurgeFilter) (string, []any) {
	del := f.NewDeleteBuilder()
	del.DeleteFrom("candidates")
	where := []string{del.Equal("origin", filter.Origin)}
	if filter.Cycle != 0 {
		where = append(where, del.Equal("cycle", filter.Cycle))
	}
	del.Where(where...)
	return del.Build()
}

const countByStateSQL = `SELECT CASE
	WHEN sponsor_id IS NULL THEN 'unenriched'
	WHEN sponsor_id = 'NONE' THEN 'sponsor_none'
	ELSE 'sponsor_resolved' END AS state, COUNT(*)
FROM candidates GROUP BY 1`

const countByPartySQL = `SELECT party, COUNT(*) FROM candidates GROUP BY party ORDER BY party`

func insertDisclosureSQL(f sqlbuilder.Flavor, d *model.Disclosure, periodEnd any) (string, []any) {
	ib := f.NewInsertBuilder()
	ib.InsertInto("disclosures")
	ib.Cols(disclosureColumns...)
	ib.Values(d.ID, d.CandidateID, d.SponsorID, periodEnd, d.ReportType,
		d.Receipts, d.Disbursements, d.CashOnHand, d.DocumentURL, d.CreatedAt)
	return ib.Build()
}

func hasDisclosureSQL(f sqlbuilder.Flavor, candidateID string, periodEnd any) (string, []any) {
	sb := f.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("disclosures")
	sb.Where(sb.Equal("candidate_id", candidateID), sb.Equal("period_end", periodEnd))
	return sb.Build()
}

func listDisclosuresSQL(f sqlbuilder.Flavor, filter DisclosureFilter) (string, []any) {
	sb := f.NewSelectBuilder()
	sb.Select(disclosureColumns...)
	sb.From("disclosures")
	if filter.CandidateID != "" {
		sb.Where(sb.Equal("candidate_id", filter.CandidateID))
	}
	sb.OrderBy("candidate_id", "period_end")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
		if filter.Offset > 0 {
			sb.Offset(filter.Offset)
		}
	}
	return sb.Build()
}

func insertRunSQL(f sqlbuilder.Flavor, r *model.Run) (string, []any) {
	ib := f.NewInsertBuilder()
	ib.InsertInto("sync_log")
	ib.Cols("id", "job", "status", "started_at")
	ib.Values(r.ID, r.Job, string(r.Status), r.StartedAt)
	return ib.Build()
}

func finishRunSQL(f sqlbuilder.Flavor, runID string, status model.RunStatus, completedAt any, summary []byte, errMsg *string) (string, []any) {
	ub := f.NewUpdateBuilder()
	ub.Update("sync_log")
	assignments := []string{
		ub.Assign("status", string(status)),
		ub.Assign("completed_at", completedAt),
		ub.Assign("error", nullable(errMsg)),
	}
	if summary != nil {
		assignments = append(assignments, ub.Assign("summary", summary))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", runID))
	return ub.Build()
}

func listRunsSQL(f sqlbuilder.Flavor, filter RunFilter) (string, []any) {
	sb := f.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From("sync_log")
	var where []string
	if filter.Job != "" {
		where = append(where, sb.Equal("job", filter.Job))
	}
	if filter.Status != "" {
		where = append(where, sb.Equal("status", string(filter.Status)))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("started_at").Desc()
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	sb.Limit(limit)
	return sb.Build()
}

package model

import "time"

// SponsorNone marks a candidate whose sponsor lookup ran and found nothing.
const SponsorNone = "NONE"

// EnrichmentState is the enrichment progress of a candidate, derived from
// its sponsor identifier.
type EnrichmentState string

const (
	StateUnenriched      EnrichmentState = "unenriched"
	StateSponsorResolved EnrichmentState = "sponsor_resolved"
	StateSponsorNone     EnrichmentState = "sponsor_none"
)

// Level is the governing level a candidate runs at.
type Level string

const (
	LevelFederal Level = "federal"
	LevelState   Level = "state"
	LevelLocal   Level = "local"
)

// Candidate is a political candidate ingested from an origin system.
type Candidate struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Party           string    `json:"party"`
	PartyFull       string    `json:"party_full,omitempty"`
	Level           Level     `json:"level"`
	Jurisdiction    string    `json:"jurisdiction"`
	State           string    `json:"state,omitempty"`
	Office          string    `json:"office,omitempty"`
	District        string    `json:"district,omitempty"`
	Cycle           int       `json:"cycle"`
	Origin          string    `json:"origin"`
	OriginID        *string   `json:"origin_id,omitempty"`
	MatchKey        string    `json:"match_key"`
	Incumbent       bool      `json:"incumbent"`
	Status          string    `json:"status,omitempty"`
	SponsorID       *string   `json:"sponsor_id,omitempty"`
	ViabilityScore  *float64  `json:"viability_score,omitempty"`
	ViabilityBucket *string   `json:"viability_bucket,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	FirstFileDate   string    `json:"first_file_date,omitempty"`
	LastFileDate    string    `json:"last_file_date,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Enrichment reports where the candidate sits in the enrichment sequence.
func (c *Candidate) Enrichment() EnrichmentState {
	switch {
	case c.SponsorID == nil:
		return StateUnenriched
	case *c.SponsorID == SponsorNone:
		return StateSponsorNone
	default:
		return StateSponsorResolved
	}
}

// HasOriginID reports whether the origin system assigned an identifier.
func (c *Candidate) HasOriginID() bool {
	return c.OriginID != nil && *c.OriginID != ""
}

// OriginIDValue returns the origin identifier or "" when absent.
func (c *Candidate) OriginIDValue() string {
	if c.OriginID == nil {
		return ""
	}
	return *c.OriginID
}

// SponsorIDValue returns the resolved sponsor identifier, or "" when the
// candidate is unenriched or known to have no sponsor.
func (c *Candidate) SponsorIDValue() string {
	if c.Enrichment() != StateSponsorResolved {
		return ""
	}
	return *c.SponsorID
}

// StringPtr returns a pointer to s, or nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

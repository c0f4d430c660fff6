package reconcile

import (
	"strings"
	"time"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

// Downstream field names. CandidateKeyField and FilingKeyField carry the
// join keys the engine indexes on.
const (
	FieldFullName     = "Full Name"
	FieldParty        = "Party"
	FieldJurisdiction = "Jurisdiction"
	FieldState        = "State"
	FieldOffice       = "Office Sought"
	FieldDistrict     = "District"
	FieldCycle        = "Election Cycle"
	FieldIncumbent    = "Incumbent?"
	FieldStatus       = "Status"
	FieldCommitteeID  = "Committee ID"
	FieldSourceURL    = "Source URL"

	FieldCandidate     = "Candidate"
	FieldPeriodEnd     = "Period End"
	FieldReceipts      = "Receipts"
	FieldDisbursements = "Disbursements"
	FieldCashOnHand    = "Cash On Hand"
	FieldFilingURL     = "Filing URL"

	CandidateKeyField = "FEC Candidate ID"
	FilingKeyField    = "Filing Key"
)

// KeyedOrigin is the only origin whose ids fit CandidateKeyField. Candidates
// from any other origin are not projected.
const KeyedOrigin = "FEC"

// Party labels of the downstream controlled vocabulary.
const (
	PartyDemocratic  = "Democratic"
	PartyRepublican  = "Republican"
	PartyIndependent = "Independent"
	PartyOther       = "Other"
)

var partyLabels = map[string]string{
	"DEM":         PartyDemocratic,
	"DEMOCRATIC":  PartyDemocratic,
	"DFL":         PartyDemocratic,
	"REP":         PartyRepublican,
	"REPUBLICAN":  PartyRepublican,
	"IND":         PartyIndependent,
	"INDEPENDENT": PartyIndependent,
}

// Kind is the downstream type of a field.
type Kind int

const (
	KindText Kind = iota
	KindTitle
	KindNumber
	KindCheckbox
	KindURL
	KindSelect
	KindDate
	KindLink
)

// FieldSpec describes one downstream field.
type FieldSpec struct {
	Name string
	Kind Kind
}

// Schema is the ordered field list of one downstream table.
type Schema []FieldSpec

// CandidateSchema is the downstream layout of the Candidates table.
var CandidateSchema = Schema{
	{FieldFullName, KindTitle},
	{FieldParty, KindSelect},
	{FieldJurisdiction, KindText},
	{FieldState, KindText},
	{FieldOffice, KindText},
	{FieldDistrict, KindText},
	{FieldCycle, KindNumber},
	{FieldIncumbent, KindCheckbox},
	{FieldStatus, KindText},
	{CandidateKeyField, KindText},
	{FieldCommitteeID, KindText},
	{FieldSourceURL, KindURL},
}

// FilingSchema is the downstream layout of the Filings table.
var FilingSchema = Schema{
	{FilingKeyField, KindTitle},
	{FieldCandidate, KindLink},
	{FieldCommitteeID, KindText},
	{FieldPeriodEnd, KindDate},
	{FieldReceipts, KindNumber},
	{FieldDisbursements, KindNumber},
	{FieldCashOnHand, KindNumber},
	{FieldFilingURL, KindURL},
}

// Fields is one record's values keyed by downstream field name.
type Fields map[string]any

// Link is a reference to parent records by their downstream ids.
type Link []string

// PartyLabel translates an origin party code into the downstream vocabulary.
// Anything unrecognised, including the empty code, becomes Other.
func PartyLabel(code string) string {
	if label, ok := partyLabels[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return label
	}
	return PartyOther
}

// FilingKey is the downstream join key of a disclosure.
func FilingKey(originID string, periodEnd time.Time) string {
	return originID + ":" + periodEnd.UTC().Format(model.PeriodLayout)
}

// CandidateFields projects a candidate onto the Candidates table. Empty
// optional values are left out.
func CandidateFields(c *model.Candidate) Fields {
	f := Fields{
		FieldFullName:     c.Name,
		FieldParty:        PartyLabel(c.Party),
		FieldCycle:        c.Cycle,
		FieldIncumbent:    c.Incumbent,
		CandidateKeyField: c.OriginIDValue(),
	}
	setIf(f, FieldJurisdiction, c.Jurisdiction)
	setIf(f, FieldState, c.State)
	setIf(f, FieldOffice, c.Office)
	setIf(f, FieldDistrict, c.District)
	setIf(f, FieldStatus, c.Status)
	setIf(f, FieldCommitteeID, c.SponsorIDValue())
	setIf(f, FieldSourceURL, c.SourceURL)
	return f
}

// FilingFields projects a disclosure onto the Filings table, linked to the
// parent candidate's downstream record.
func FilingFields(d *model.Disclosure, originID, parentID string) Fields {
	f := Fields{
		FilingKeyField:     FilingKey(originID, d.PeriodEnd),
		FieldCandidate:     Link{parentID},
		FieldCommitteeID:   d.SponsorID,
		FieldPeriodEnd:     d.PeriodKey(),
		FieldReceipts:      d.Receipts,
		FieldDisbursements: d.Disbursements,
		FieldCashOnHand:    d.CashOnHand,
	}
	setIf(f, FieldFilingURL, d.DocumentURL)
	return f
}

func setIf(f Fields, name, v string) {
	if v != "" {
		f[name] = v
	}
}

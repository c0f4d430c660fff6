package model

import "time"

// PeriodLayout is the canonical date layout for reporting periods.
const PeriodLayout = "2006-01-02"

// Disclosure is a periodic financial report filed by a candidate's sponsor
// organization. Disclosures are append-only.
type Disclosure struct {
	ID            string    `json:"id"`
	CandidateID   string    `json:"candidate_id"`
	SponsorID     string    `json:"sponsor_id"`
	PeriodEnd     time.Time `json:"period_end"`
	ReportType    string    `json:"report_type,omitempty"`
	Receipts      float64   `json:"receipts"`
	Disbursements float64   `json:"disbursements"`
	CashOnHand    float64   `json:"cash_on_hand"`
	DocumentURL   string    `json:"document_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PeriodKey returns the reporting period end date as YYYY-MM-DD.
func (d *Disclosure) PeriodKey() string {
	return d.PeriodEnd.UTC().Format(PeriodLayout)
}

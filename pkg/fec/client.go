// Package fec is a minimal client for the OpenFEC REST API.
package fec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
)

const (
	defaultBaseURL = "https://api.open.fec.gov/v1"

	// MaxPerPage is the largest page size the API accepts.
	MaxPerPage = 100

	// maxErrorBody bounds the response body kept on a PermanentError.
	maxErrorBody = 512
)

// Client reads candidates, committees and filings from OpenFEC.
type Client interface {
	SearchCandidates(ctx context.Context, q CandidateQuery, page int) (*CandidatePage, error)
	CandidateCommittees(ctx context.Context, candidateID string) ([]Committee, error)
	LatestReport(ctx context.Context, committeeID string) (*Report, error)
}

// CandidateQuery selects one category of candidates.
type CandidateQuery struct {
	Cycle   int    `json:"cycle"`
	Office  string `json:"office,omitempty"`
	Party   string `json:"party,omitempty"`
	State   string `json:"state,omitempty"`
	PerPage int    `json:"per_page,omitempty"`
}

// String renders the query as a compact label for logs and summaries.
func (q CandidateQuery) String() string {
	parts := []string{strconv.Itoa(q.Cycle)}
	for _, p := range []string{q.Office, q.Party, q.State} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// RawCandidate is one candidate record exactly as the API returned it.
type RawCandidate map[string]any

// Pagination is the API's page metadata.
type Pagination struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
}

// CandidatePage is one page of GET /candidates/.
type CandidatePage struct {
	Results    []RawCandidate `json:"results"`
	Pagination Pagination     `json:"pagination"`
}

// Committee is a campaign committee associated with a candidate.
type Committee struct {
	CommitteeID   string `json:"committee_id"`
	Name          string `json:"name"`
	Designation   string `json:"designation"`
	CommitteeType string `json:"committee_type"`
}

// Report is a periodic financial report filed by a committee.
type Report struct {
	CommitteeID              string  `json:"committee_id"`
	CoverageEndDate          string  `json:"coverage_end_date"`
	ReportType               string  `json:"report_type"`
	TotalReceiptsPeriod      float64 `json:"total_receipts_period"`
	TotalDisbursementsPeriod float64 `json:"total_disbursements_period"`
	CashOnHandEndPeriod      float64 `json:"cash_on_hand_end_period"`
	PDFURL                   string  `json:"pdf_url"`
}

// PeriodEnd parses CoverageEndDate, which the API sends either as a date
// or as a timestamp without zone.
func (r *Report) PeriodEnd() (time.Time, error) {
	s := r.CoverageEndDate
	if len(s) >= 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "fec: parse coverage_end_date %q", r.CoverageEndDate)
	}
	return t, nil
}

type listResponse[T any] struct {
	Results    []T        `json:"results"`
	Pagination Pagination `json:"pagination"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates an OpenFEC API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CandidateURL is the public page for a candidate.
func CandidateURL(candidateID string) string {
	return "https://www.fec.gov/data/candidate/" + url.PathEscape(candidateID) + "/"
}

func (c *httpClient) SearchCandidates(ctx context.Context, q CandidateQuery, page int) (*CandidatePage, error) {
	params := url.Values{}
	params.Set("cycle", strconv.Itoa(q.Cycle))
	if q.Office != "" {
		params.Set("office", q.Office)
	}
	if q.Party != "" {
		params.Set("party", q.Party)
	}
	if q.State != "" {
		params.Set("state", q.State)
	}
	perPage := q.PerPage
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("sort", "name")

	var resp CandidatePage
	if err := c.get(ctx, "/candidates/", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) CandidateCommittees(ctx context.Context, candidateID string) ([]Committee, error) {
	path := "/candidate/" + url.PathEscape(candidateID) + "/committees/"

	// Principal campaign committee first; otherwise any committee.
	params := url.Values{}
	params.Set("designation", "P")
	params.Set("per_page", "20")
	var principal listResponse[Committee]
	if err := c.get(ctx, path, params, &principal); err != nil {
		return nil, err
	}
	if len(principal.Results) > 0 {
		return principal.Results, nil
	}

	params.Del("designation")
	var fallback listResponse[Committee]
	if err := c.get(ctx, path, params, &fallback); err != nil {
		return nil, err
	}
	return fallback.Results, nil
}

func (c *httpClient) LatestReport(ctx context.Context, committeeID string) (*Report, error) {
	params := url.Values{}
	params.Set("sort", "-coverage_end_date")
	params.Set("per_page", "1")

	var resp listResponse[Report]
	if err := c.get(ctx, "/committee/"+url.PathEscape(committeeID)+"/reports/", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

// get performs one GET and classifies the outcome: 429 is transient and
// carries Retry-After, every other non-2xx is permanent. The key travels in
// a header so transport errors, which quote the URL, never carry it.
func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "fec: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "fec: GET %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "fec: read response %s", path)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		te := resilience.NewTransientError(eris.Errorf("fec: GET %s rate limited", path), resp.StatusCode)
		te.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return te
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resilience.NewPermanentError(
			eris.Errorf("fec: GET %s unexpected status %d", path, resp.StatusCode),
			resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resilience.NewPermanentError(eris.Wrapf(err, "fec: decode %s", path), resp.StatusCode, truncate(string(body), maxErrorBody))
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("...(%d bytes)", len(s))
}

// Package airtable is a minimal client for the Airtable REST API: listing
// every record of a table and creating records in batches.
package airtable

import (
	"bytes"
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
	defaultBaseURL = "https://api.airtable.com/v0"

	// MaxBatch is the largest number of records one create call accepts.
	MaxBatch = 10

	listPageSize = 100
	maxErrorBody = 512
)

// Client lists and creates records in one Airtable base.
type Client interface {
	ListRecords(ctx context.Context, table string) ([]Record, error)
	CreateRecords(ctx context.Context, table string, fields []Fields) ([]Record, error)
}

// Fields is the field map of one record, keyed by field name.
type Fields map[string]any

// Record is one table row.
type Record struct {
	ID          string `json:"id"`
	CreatedTime string `json:"createdTime,omitempty"`
	Fields      Fields `json:"fields"`
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

type createRequest struct {
	Records  []createRecord `json:"records"`
	Typecast bool           `json:"typecast"`
}

type createRecord struct {
	Fields Fields `json:"fields"`
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

// WithTypecast controls whether Airtable may coerce string values into
// select options and other typed cells. On by default.
func WithTypecast(on bool) Option {
	return func(c *httpClient) {
		c.typecast = on
	}
}

// WithRetry retries rate-limited list pages with cfg. Each page is retried
// on its own so a 429 part-way through a table never refetches earlier pages.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	token    string
	baseID   string
	baseURL  string
	typecast bool
	retry    resilience.RetryConfig
	http     *http.Client
}

// NewClient creates an Airtable client for the given base.
func NewClient(token, baseID string, opts ...Option) Client {
	c := &httpClient{
		token:    token,
		baseID:   baseID,
		baseURL:  defaultBaseURL,
		typecast: true,
		retry:    resilience.RetryConfig{MaxAttempts: 1},
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListRecords follows the continuation offset until the table is exhausted.
func (c *httpClient) ListRecords(ctx context.Context, table string) ([]Record, error) {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("airtable", "list_records")
	}

	var all []Record
	offset := ""
	for {
		params := url.Values{}
		params.Set("pageSize", strconv.Itoa(listPageSize))
		if offset != "" {
			params.Set("offset", offset)
		}
		pageURL := c.tableURL(table) + "?" + params.Encode()

		page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (listResponse, error) {
			var page listResponse
			err := c.do(ctx, http.MethodGet, pageURL, nil, &page)
			return page, err
		})
		if err != nil {
			return nil, eris.Wrapf(err, "airtable: list %s", table)
		}
		all = append(all, page.Records...)

		if page.Offset == "" {
			return all, nil
		}
		offset = page.Offset
	}
}

// CreateRecords creates up to MaxBatch records in one call.
func (c *httpClient) CreateRecords(ctx context.Context, table string, fields []Fields) ([]Record, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields) > MaxBatch {
		return nil, eris.Errorf("airtable: create %s: %d records exceeds batch limit %d", table, len(fields), MaxBatch)
	}

	req := createRequest{Typecast: c.typecast, Records: make([]createRecord, len(fields))}
	for i, f := range fields {
		req.Records[i] = createRecord{Fields: f}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "airtable: marshal request")
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodPost, c.tableURL(table), body, &resp); err != nil {
		return nil, eris.Wrapf(err, "airtable: create %s", table)
	}
	return resp.Records, nil
}

func (c *httpClient) tableURL(table string) string {
	return c.baseURL + "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(table)
}

// do performs one request. 429 is transient and carries Retry-After; every
// other non-2xx is permanent with the API's error message attached.
func (c *httpClient) do(ctx context.Context, method, reqURL string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return eris.Wrap(err, "airtable: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "airtable: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "airtable: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		te := resilience.NewTransientError(eris.New("airtable: rate limited"), resp.StatusCode)
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			te.RetryAfter = time.Duration(secs) * time.Second
		}
		return te
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(respBody)
		return resilience.NewPermanentError(
			eris.Errorf("airtable: unexpected status %d: %s", resp.StatusCode, msg),
			resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "airtable: unmarshal response"), resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}
	return nil
}

// errorMessage pulls the message out of Airtable's error envelope, which is
// either {"error":{"type":..,"message":..}} or {"error":"NOT_FOUND"}.
func errorMessage(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return truncate(string(body), maxErrorBody)
	}
	var detail struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &detail); err == nil {
		if detail.Message != "" {
			return detail.Type + ": " + detail.Message
		}
		return detail.Type
	}
	var code string
	if err := json.Unmarshal(env.Error, &code); err == nil {
		return code
	}
	return truncate(string(env.Error), maxErrorBody)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("...(%d bytes)", len(s))
}

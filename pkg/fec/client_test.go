package fec

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
)

func TestSearchCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/candidates/", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.False(t, q.Has("api_key"))
		assert.Equal(t, "2026", q.Get("cycle"))
		assert.Equal(t, "H", q.Get("office"))
		assert.Equal(t, "DEM", q.Get("party"))
		assert.Equal(t, "WA", q.Get("state"))
		assert.Equal(t, "50", q.Get("per_page"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "name", q.Get("sort"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results": [
				{"candidate_id": "H6WA09001", "name": "SMITH, ADAM", "party": "DEM", "incumbent_challenge": "I"},
				{"candidate_id": "H6WA09002", "name": "DOE, JANE", "party": "DEM", "incumbent_challenge": "C"}
			],
			"pagination": {"page": 2, "pages": 3, "count": 120, "per_page": 50}
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL+"/"))
	page, err := client.SearchCandidates(context.Background(),
		CandidateQuery{Cycle: 2026, Office: "H", Party: "DEM", State: "WA", PerPage: 50}, 2)
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "H6WA09001", page.Results[0]["candidate_id"])
	assert.Equal(t, 3, page.Pagination.Pages)
	assert.Equal(t, 2, page.Pagination.Page)
}

func TestGet_TransportErrorOmitsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL + "/"
	srv.Close()

	client := NewClient("secret-key-123", WithBaseURL(baseURL))
	_, err := client.CandidateCommittees(context.Background(), "H6WA09001")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key-123")
	assert.NotContains(t, fmt.Sprintf("%+v", err), "secret-key-123")
}

func TestSearchCandidates_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		want       resilience.Outcome
		wantDelay  time.Duration
		wantErr    string
	}{
		{name: "rate_limit", status: http.StatusTooManyRequests, retryAfter: "7", body: `{}`,
			want: resilience.TransientFailure, wantDelay: 7 * time.Second, wantErr: "rate limited"},
		{name: "rate_limit_no_header", status: http.StatusTooManyRequests, body: `{}`,
			want: resilience.TransientFailure, wantErr: "rate limited"},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":"bad key"}`,
			want: resilience.PermanentFailure, wantErr: "unexpected status 403"},
		{name: "server_error", status: http.StatusInternalServerError, body: `oops`,
			want: resilience.PermanentFailure, wantErr: "unexpected status 500"},
		{name: "malformed_response", status: http.StatusOK, body: `{invalid json`,
			want: resilience.PermanentFailure, wantErr: "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("k", WithBaseURL(srv.URL))
			page, err := client.SearchCandidates(context.Background(), CandidateQuery{Cycle: 2026}, 1)
			require.Error(t, err)
			assert.Nil(t, page)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.want, resilience.Classify(err))
			assert.Equal(t, tt.wantDelay, resilience.RetryAfter(err))
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.status, resilience.StatusCode(err))
			}
		})
	}
}

func TestCandidateCommittees_PrefersPrincipal(t *testing.T) {
	var designations []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/candidate/H6WA09001/committees/", r.URL.Path)
		designations = append(designations, r.URL.Query().Get("designation"))
		_, _ = w.Write([]byte(`{"results":[{"committee_id":"C00111111","name":"SMITH FOR CONGRESS","designation":"P"}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	committees, err := client.CandidateCommittees(context.Background(), "H6WA09001")
	require.NoError(t, err)
	require.Len(t, committees, 1)
	assert.Equal(t, "C00111111", committees[0].CommitteeID)
	assert.Equal(t, []string{"P"}, designations)
}

func TestCandidateCommittees_FallsBackToAnyCommittee(t *testing.T) {
	var designations []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := r.URL.Query().Get("designation")
		designations = append(designations, d)
		if d == "P" {
			_, _ = w.Write([]byte(`{"results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"committee_id":"C00222222","designation":"A"}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	committees, err := client.CandidateCommittees(context.Background(), "H6WA09001")
	require.NoError(t, err)
	require.Len(t, committees, 1)
	assert.Equal(t, "C00222222", committees[0].CommitteeID)
	assert.Equal(t, []string{"P", ""}, designations)
}

func TestCandidateCommittees_None(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	committees, err := client.CandidateCommittees(context.Background(), "H6WA09001")
	require.NoError(t, err)
	assert.Empty(t, committees)
}

func TestLatestReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/committee/C00111111/reports/", r.URL.Path)
		assert.Equal(t, "-coverage_end_date", r.URL.Query().Get("sort"))
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`{"results":[{
			"committee_id":"C00111111",
			"coverage_end_date":"2026-06-30T00:00:00",
			"report_type":"Q2",
			"total_receipts_period":125000.50,
			"total_disbursements_period":40000,
			"cash_on_hand_end_period":300000.25,
			"pdf_url":"https://docquery.fec.gov/pdf/123.pdf"
		}]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	report, err := client.LatestReport(context.Background(), "C00111111")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "Q2", report.ReportType)
	assert.InDelta(t, 125000.50, report.TotalReceiptsPeriod, 0.001)

	end, err := report.PeriodEnd()
	require.NoError(t, err)
	assert.Equal(t, "2026-06-30", end.Format("2006-01-02"))
}

func TestLatestReport_NoFilings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL))
	report, err := client.LatestReport(context.Background(), "C00111111")
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestReportPeriodEnd_Invalid(t *testing.T) {
	r := &Report{CoverageEndDate: "soon"}
	_, err := r.PeriodEnd()
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 12*time.Second, parseRetryAfter("12"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.True(t, d > 50*time.Second && d <= time.Minute, "got %s", d)
}

func TestCandidateQueryString(t *testing.T) {
	assert.Equal(t, "2026/H/DEM/WA", CandidateQuery{Cycle: 2026, Office: "H", Party: "DEM", State: "WA"}.String())
	assert.Equal(t, "2028", CandidateQuery{Cycle: 2028}.String())
}

func TestCandidateURL(t *testing.T) {
	assert.Equal(t, "https://www.fec.gov/data/candidate/H6WA09001/", CandidateURL("H6WA09001"))
}

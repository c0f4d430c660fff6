package main

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ampersand-strategies/candidate-tracker/internal/config"
	"github.com/ampersand-strategies/candidate-tracker/internal/enrich"
	"github.com/ampersand-strategies/candidate-tracker/internal/fetcher"
	"github.com/ampersand-strategies/candidate-tracker/internal/ingest"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/reconcile"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
	"github.com/ampersand-strategies/candidate-tracker/internal/resolve"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
	"github.com/ampersand-strategies/candidate-tracker/pkg/airtable"
	"github.com/ampersand-strategies/candidate-tracker/pkg/fec"
	"github.com/ampersand-strategies/candidate-tracker/pkg/notion"
)

// originFEC is the origin tag of records ingested from OpenFEC.
const originFEC = "FEC"

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "tracker.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// openStore connects and applies the schema. Every command that touches
// local state goes through it.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate")
	}
	return st, nil
}

// upstreamPolicy is the shared call spacing and retry policy for OpenFEC.
// One limiter serves both the pager and enrichment so their calls never
// overlap the configured delay.
type upstreamPolicy struct {
	limiter *fetcher.AdaptiveLimiter
	retry   resilience.RetryConfig
}

func newUpstreamPolicy(c config.FECConfig) upstreamPolicy {
	return upstreamPolicy{
		limiter: fetcher.NewThrottle(time.Duration(c.CallDelayMs) * time.Millisecond),
		retry:   resilience.CooldownConfig(c.MaxAttempts, time.Duration(c.CooldownSecs)*time.Second),
	}
}

func newFECClient(c config.FECConfig) fec.Client {
	var opts []fec.Option
	if c.BaseURL != "" {
		opts = append(opts, fec.WithBaseURL(c.BaseURL))
	}
	return fec.NewClient(c.APIKey, opts...)
}

func newIngester(st store.Store, client fec.Client, p upstreamPolicy) (*ingest.Ingester, error) {
	mappings, err := resolve.LoadMappings()
	if err != nil {
		return nil, err
	}
	return ingest.New(client, resolve.New(st, mappings), st, fetcher.Options{
		Limiter: p.limiter,
		Retry:   p.retry,
	}), nil
}

func newEnricher(st store.Store, client fec.Client, p upstreamPolicy, c config.EnrichConfig) *enrich.Enricher {
	return enrich.New(client, st, enrich.Options{
		Limiter:      p.limiter,
		Retry:        p.retry,
		BatchSize:    c.BatchSize,
		MaxBatchSize: c.MaxBatchSize,
	})
}

// syncTables returns the downstream table names for the configured target.
func syncTables(c *config.Config) reconcile.Tables {
	return reconcile.Tables{
		Candidates: c.Airtable.CandidatesTable,
		Filings:    c.Airtable.FilingsTable,
	}
}

func newTarget(c *config.Config, name string) (reconcile.Target, error) {
	retry := resilience.CooldownConfig(c.FEC.MaxAttempts, time.Duration(c.FEC.CooldownSecs)*time.Second)
	switch name {
	case "airtable":
		if c.Airtable.Token == "" || c.Airtable.BaseID == "" {
			return nil, eris.New("airtable.token and airtable.base_id are required (TRACKER_AIRTABLE_TOKEN, TRACKER_AIRTABLE_BASE_ID)")
		}
		opts := []airtable.Option{airtable.WithRetry(retry)}
		if c.Airtable.BaseURL != "" {
			opts = append(opts, airtable.WithBaseURL(c.Airtable.BaseURL))
		}
		return reconcile.NewAirtableTarget(airtable.NewClient(c.Airtable.Token, c.Airtable.BaseID, opts...), retry), nil
	case "notion":
		if c.Notion.Token == "" || c.Notion.CandidatesDB == "" || c.Notion.FilingsDB == "" {
			return nil, eris.New("notion.token, notion.candidates_db and notion.filings_db are required")
		}
		tables := syncTables(c)
		return reconcile.NewNotionTarget(notion.NewClient(c.Notion.Token), map[string]reconcile.NotionDatabase{
			tables.Candidates: {ID: c.Notion.CandidatesDB, Schema: reconcile.CandidateSchema},
			tables.Filings:    {ID: c.Notion.FilingsDB, Schema: reconcile.FilingSchema},
		}, retry), nil
	default:
		return nil, eris.Errorf("unknown sync target %q (want airtable or notion)", name)
	}
}

// printSummary writes the summary as indented JSON.
func printSummary(w io.Writer, s *model.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(s), "encode summary")
}

// parseInts parses a comma-separated list of integers, ignoring blanks.
func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid number %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

// parseList splits a comma-separated list, upper-casing and dropping blanks.
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

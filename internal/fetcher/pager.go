// Package fetcher walks paginated upstream listings one page at a time.
package fetcher

import (
	"context"
	"io"
	"iter"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/metrics"
	"github.com/ampersand-strategies/candidate-tracker/internal/resilience"
	"github.com/ampersand-strategies/candidate-tracker/pkg/fec"
)

// maxEmptyPages is the hard ceiling on consecutive empty pages fetched
// before the stream ends, whatever the page count claims.
const maxEmptyPages = 2

// PageSource fetches one page of candidates. fec.Client satisfies it.
type PageSource interface {
	SearchCandidates(ctx context.Context, q fec.CandidateQuery, page int) (*fec.CandidatePage, error)
}

// Page is one non-empty page of raw records.
type Page struct {
	Number     int
	Records    []fec.RawCandidate
	Pagination fec.Pagination
}

// Options configures a Pager.
type Options struct {
	// Limiter spaces calls. Nil means unthrottled.
	Limiter *AdaptiveLimiter
	// Retry is the policy applied to each page fetch.
	Retry resilience.RetryConfig
	// EmptyPages is how many consecutive empty pages end the stream when
	// the page count says more remain. Default 1, capped at 2.
	EmptyPages int
}

// Pager walks every page of one query. It is not safe for concurrent use.
type Pager struct {
	src     PageSource
	query   fec.CandidateQuery
	opts    Options
	next    int
	empties int
	done    bool
	log     *zap.Logger
}

// NewPager creates a pager positioned at page 1.
func NewPager(src PageSource, q fec.CandidateQuery, opts Options) *Pager {
	if opts.EmptyPages <= 0 {
		opts.EmptyPages = 1
	}
	if opts.EmptyPages > maxEmptyPages {
		opts.EmptyPages = maxEmptyPages
	}
	if q.PerPage <= 0 || q.PerPage > fec.MaxPerPage {
		q.PerPage = fec.MaxPerPage
	}
	return &Pager{
		src:   src,
		query: q,
		opts:  opts,
		next:  1,
		log:   zap.L().With(zap.String("component", "fetcher"), zap.Stringer("query", q)),
	}
}

// Query returns the query being walked.
func (p *Pager) Query() fec.CandidateQuery { return p.query }

// Position returns the page number the next call to Next will fetch.
func (p *Pager) Position() int { return p.next }

// Resume repositions the pager so the next fetch starts at page.
func (p *Pager) Resume(page int) {
	if page < 1 {
		page = 1
	}
	p.next = page
	p.empties = 0
	p.done = false
}

// Next returns the next non-empty page, or io.EOF once the stream is
// exhausted. On error the position is left on the failed page.
func (p *Pager) Next(ctx context.Context) (Page, error) {
	for {
		if p.done {
			return Page{}, io.EOF
		}

		number := p.next
		resp, err := p.fetch(ctx, number)
		if err != nil {
			return Page{Number: number}, eris.Wrapf(err, "fetch %s page %d", p.query, number)
		}
		p.next++

		more := resp.Pagination.Pages > 0 && number < resp.Pagination.Pages
		if len(resp.Results) == 0 {
			p.empties++
			if !more || p.empties >= p.opts.EmptyPages {
				p.log.Debug("empty page ends stream",
					zap.Int("page", number),
					zap.Int("reported_pages", resp.Pagination.Pages),
				)
				p.done = true
				return Page{}, io.EOF
			}
			continue
		}

		p.empties = 0
		if resp.Pagination.Pages > 0 && !more {
			p.done = true
		}
		return Page{Number: number, Records: resp.Results, Pagination: resp.Pagination}, nil
	}
}

// All returns a lazy sequence over the remaining pages. Iteration stops
// after the first error, which is yielded with the failed page number.
func (p *Pager) All(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for {
			page, err := p.Next(ctx)
			if eris.Is(err, io.EOF) {
				return
			}
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

func (p *Pager) fetch(ctx context.Context, number int) (*fec.CandidatePage, error) {
	cfg := p.opts.Retry
	onRetry := resilience.RetryLogger("fec", "search_candidates")
	cfg.OnRetry = func(attempt int, err error) {
		if p.opts.Limiter != nil && resilience.StatusCode(err) == http.StatusTooManyRequests {
			p.opts.Limiter.OnRateLimit()
		}
		onRetry(attempt, err)
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*fec.CandidatePage, error) {
		if p.opts.Limiter != nil {
			if err := p.opts.Limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limiter wait")
			}
		}
		resp, err := p.src.SearchCandidates(ctx, p.query, number)
		metrics.RecordCall("fec", "search_candidates", err)
		if err != nil {
			return nil, err
		}
		if p.opts.Limiter != nil {
			p.opts.Limiter.OnSuccess()
		}
		return resp, nil
	})
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ampersand-strategies/candidate-tracker/internal/config"
	"github.com/ampersand-strategies/candidate-tracker/internal/model"
	"github.com/ampersand-strategies/candidate-tracker/internal/monitoring"
	"github.com/ampersand-strategies/candidate-tracker/internal/store"
)

var servePort int

// jobAPI is what the HTTP handlers run. *jobRunner satisfies it.
type jobAPI interface {
	ingest(ctx context.Context, req ingestRequest) *model.Summary
	enrich(ctx context.Context, req enrichRequest) *model.Summary
	sync(ctx context.Context, target string) (*model.Summary, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job server",
	Long:  "Exposes ingest, enrich and sync as JSON endpoints. Identical concurrent requests share one run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := newJobRunner(cfg, st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(ctx, jobs, st, cfg.Monitoring),
			ReadHeaderTimeout: 10 * time.Second,
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, cfg.Monitoring.StaleRunHours),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// server holds the handler dependencies.
type server struct {
	// ctx bounds every job run. Jobs outlive the request that started them
	// so callers sharing a run are not cut off when the first one leaves.
	ctx    context.Context
	jobs   jobAPI
	st     store.Store
	mon    config.MonitoringConfig
	flight singleflight.Group
	log    *zap.Logger
}

func buildRouter(ctx context.Context, jobs jobAPI, st store.Store, mon config.MonitoringConfig) http.Handler {
	s := &server{
		ctx:  ctx,
		jobs: jobs,
		st:   st,
		mon:  mon,
		log:  zap.L().With(zap.String("component", "server")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", s.handleStatus)

	r.Route("/ingest", func(r chi.Router) {
		r.Post("/backfill", s.handleIngest)
		r.Post("/state/{state}", s.handleIngest)
	})
	r.Post("/enrich", s.handleEnrich)
	r.Post("/sync", s.handleSync)
	r.Route("/candidates", func(r chi.Router) {
		r.Get("/", s.handleListCandidates)
		r.Get("/{id}", s.handleGetCandidate)
		r.Put("/{id}/viability", s.handleViability)
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.st != nil {
		if err := s.st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := statusOf(r.Context(), s.st, 10, s.mon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if state := chi.URLParam(r, "state"); state != "" {
		req.State = strings.ToUpper(state)
	}
	s.runShared(w, flightKey("ingest", req), func(ctx context.Context) (*model.Summary, error) {
		return s.jobs.ingest(ctx, req), nil
	})
}

func (s *server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.runShared(w, flightKey("enrich", req), func(ctx context.Context) (*model.Summary, error) {
		return s.jobs.enrich(ctx, req), nil
	})
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if t := r.URL.Query().Get("target"); t != "" {
		req.Target = t
	}
	s.runShared(w, flightKey("sync", req), func(ctx context.Context) (*model.Summary, error) {
		return s.jobs.sync(ctx, req.Target)
	})
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	filter, err := candidateFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cands, err := s.st.ListCandidates(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cands == nil {
		cands = []model.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": cands,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

func (s *server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	c, err := s.st.GetCandidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// candidateFilter maps list query parameters onto a store filter.
func candidateFilter(q url.Values) (store.CandidateFilter, error) {
	f := store.CandidateFilter{
		Origin: q.Get("origin"),
		State:  strings.ToUpper(q.Get("state")),
		Party:  strings.ToUpper(q.Get("party")),
		Limit:  defaultListLimit,
	}
	for name, dst := range map[string]*int{"cycle": &f.Cycle, "limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, eris.Errorf("invalid %s %q", name, v)
		}
		*dst = n
	}
	if f.Limit == 0 || f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	switch e := model.EnrichmentState(q.Get("enrichment")); e {
	case "", model.StateUnenriched, model.StateSponsorResolved, model.StateSponsorNone:
		f.Enrichment = e
	default:
		return f, eris.Errorf("invalid enrichment %q", e)
	}
	return f, nil
}

func (s *server) handleViability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Score  *float64 `json:"score"`
		Bucket *string  `json:"bucket"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.st.UpdateViability(r.Context(), id, req.Score, req.Bucket); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runShared runs fn once per key at a time; concurrent callers with the same
// key wait for and receive the same summary.
func (s *server) runShared(w http.ResponseWriter, key string, fn func(ctx context.Context) (*model.Summary, error)) {
	v, err, shared := s.flight.Do(key, func() (any, error) {
		return fn(s.ctx)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if shared {
		s.log.Info("joined running job", zap.String("key", key))
	}
	writeJSON(w, http.StatusOK, v)
}

func flightKey(job string, req any) string {
	b, _ := json.Marshal(req)
	return job + ":" + string(b)
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

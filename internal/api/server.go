// Package api exposes the HTTP interface for the link scanning service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/metrics"
	"github.com/cbmoss/linksentry/internal/rules"
)

// Pinger reports backing-store health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the request-level knobs the handlers need.
type Config struct {
	// MaxAttempts is copied onto jobs created by trigger and retry.
	MaxAttempts int
	// RequestTimeout bounds each request end to end.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the stores and the rule service.
type Server struct {
	router chi.Router
	sites  linkscan.SiteStore
	runs   linkscan.RunStore
	queue  linkscan.JobQueue
	links  linkscan.LinkStore
	rules  linkscan.RuleStore
	svc    *rules.Service
	clock  linkscan.Clock
	ids    linkscan.IDGenerator
	pinger Pinger
	logger *zap.Logger
	cfg    Config
}

// NewServer constructs a Server with middleware and routes. pinger may be
// nil, in which case readyz always reports ready.
func NewServer(
	sites linkscan.SiteStore,
	runs linkscan.RunStore,
	queue linkscan.JobQueue,
	links linkscan.LinkStore,
	ruleStore linkscan.RuleStore,
	svc *rules.Service,
	clock linkscan.Clock,
	ids linkscan.IDGenerator,
	pinger Pinger,
	logger *zap.Logger,
	cfg Config,
) *Server {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	s := &Server{
		sites:  sites,
		runs:   runs,
		queue:  queue,
		links:  links,
		rules:  ruleStore,
		svc:    svc,
		clock:  clock,
		ids:    ids,
		pinger: pinger,
		logger: logger,
		cfg:    cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sites/{site_id}", func(r chi.Router) {
			r.Post("/scans", s.triggerScan)
			r.Get("/runs", s.listRuns)
		})
		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/cancel", s.cancelRun)
			r.Post("/retry", s.retryRun)
			r.Get("/links", s.listActiveLinks)
			r.Get("/ignored-links", s.listIgnoredLinks)
			r.Post("/ignore", s.ignoreLink)
			r.Post("/unignore", s.unignoreLink)
			r.Post("/reapply", s.reapplyRules)
		})
		r.Get("/links/{link_id}/occurrences", s.listOccurrences)
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Post("/", s.createRule)
			r.Route("/{rule_id}", func(r chi.Router) {
				r.Delete("/", s.deleteRule)
				r.Post("/enable", s.enableRule)
				r.Post("/disable", s.disableRule)
			})
		})
		r.Get("/diff/{base_run_id}/{compare_run_id}", s.diffRuns)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// listResponse is the shared pagination envelope: count is the number of
// items returned, total the number matching before paging.
type listResponse struct {
	Items  any `json:"items"`
	Count  int `json:"count"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newListResponse[T any](items []T, total, limit, offset int) listResponse {
	if items == nil {
		items = []T{}
	}
	return listResponse{Items: items, Count: len(items), Total: total, Limit: limit, Offset: offset}
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = min(v, maxPageSize)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func urlParamUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

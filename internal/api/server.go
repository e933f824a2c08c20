// Package api exposes the HTTP interface for the price search service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/accomopricer/accomopricer/internal/pricing"
	"github.com/accomopricer/accomopricer/internal/registry"
	"github.com/accomopricer/accomopricer/internal/stream"
)

// AuthConfig controls the optional API key check.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Config carries the server's own knobs; domain config stays with the
// components.
type Config struct {
	// RequestTimeout bounds non-streaming handlers (default 60s).
	RequestTimeout time.Duration
	Auth           AuthConfig
}

// Server wires HTTP handlers to the job registry and the event broadcaster.
type Server struct {
	router    chi.Router
	registry  *registry.Registry
	streams   *stream.Broadcaster
	store     pricing.ResultStore
	cache     pricing.CacheGateway
	platforms []string
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	cfg       Config
}

// NewServer constructs a Server with middleware and routes. cache and
// gatherer may be nil.
func NewServer(
	reg *registry.Registry,
	streams *stream.Broadcaster,
	store pricing.ResultStore,
	cache pricing.CacheGateway,
	platforms []string,
	gatherer prometheus.Gatherer,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		registry:  reg,
		streams:   streams,
		store:     store,
		cache:     cache,
		platforms: platforms,
		gatherer:  gatherer,
		logger:    logger,
		cfg:       cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	// The SSE stream lives outside the timeout group: http.TimeoutHandler
	// buffers responses and breaks flushing.
	r.Get("/v1/jobs/{job_id}/events", s.streamEvents)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Get("/metrics", s.metrics)

		r.Route("/v1", func(r chi.Router) {
			r.Post("/searches", s.submitSearch)
			r.Get("/platforms", s.listPlatforms)
			r.Get("/prices", s.lookupPrices)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/results", s.getJobResults)
				r.Post("/cancel", s.cancelJob)
			})
		})
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var criteria pricing.SearchCriteria
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sub, err := s.registry.Submit(r.Context(), criteria)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidCriteria) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	if sub.Cached != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"cached": true,
			"result": sub.Cached,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": sub.JobID,
		"status": string(pricing.JobRunning),
		"joined": sub.Joined,
	})
}

// jobStatusResponse is the public job snapshot.
type jobStatusResponse struct {
	JobID              string                          `json:"job_id"`
	Status             pricing.JobState                `json:"status"`
	Criteria           pricing.SearchCriteria          `json:"criteria"`
	Platforms          map[string]pricing.SourceStatus `json:"platforms"`
	CompletedPlatforms int                             `json:"completed_platforms"`
	TotalPlatforms     int                             `json:"total_platforms"`
	Progress           float64                         `json:"progress"`
	CreatedAt          time.Time                       `json:"created_at"`
	CompletedAt        *time.Time                      `json:"completed_at,omitempty"`
	ExecutionSeconds   *float64                        `json:"execution_seconds,omitempty"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Job(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobStatusResponse{
		JobID:              job.ID,
		Status:             job.State,
		Criteria:           job.Criteria,
		Platforms:          job.Sources,
		CompletedPlatforms: job.CompletedSources(),
		TotalPlatforms:     len(job.Sources),
		Progress:           job.Progress(),
		CreatedAt:          job.CreatedAt,
		CompletedAt:        job.CompletedAt,
	}
	if job.CompletedAt != nil {
		secs := job.CompletedAt.Sub(job.CreatedAt).Seconds()
		resp.ExecutionSeconds = &secs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	result, err := s.registry.Results(r.Context(), chi.URLParam(r, "job_id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, registry.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, registry.ErrNotReady):
		writeError(w, http.StatusConflict, "job results not ready")
	default:
		s.logger.Error("load job results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load results")
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.registry.Cancel(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(pricing.JobCancelled),
	})
}

func (s *Server) listPlatforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": s.platforms})
}

// lookupPrices serves stored aggregates by criteria: cache first, then the
// durable store.
func (s *Server) lookupPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := pricing.SearchCriteria{
		PropertyName: q.Get("property_name"),
		City:         q.Get("city"),
		State:        q.Get("state"),
		Country:      q.Get("country"),
		CheckIn:      q.Get("checkin_date"),
		CheckOut:     q.Get("checkout_date"),
	}
	if err := criteria.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.cache != nil {
		if result, err := s.cache.Get(r.Context(), pricing.CacheKey(criteria)); err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"cached": true, "result": result})
			return
		}
	}

	result, err := s.store.GetByFingerprint(r.Context(), pricing.Fingerprint(criteria))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"cached": false, "result": result})
	case errors.Is(err, pricing.ErrNotFound):
		writeError(w, http.StatusNotFound, "no stored prices for criteria")
	default:
		s.logger.Error("stored price lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load prices")
	}
}

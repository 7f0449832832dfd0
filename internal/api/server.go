package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/opportunity-crawler/internal/crawler"
	"github.com/JakeFAU/opportunity-crawler/internal/metrics"
	"github.com/JakeFAU/opportunity-crawler/internal/opportunity"
	"github.com/JakeFAU/opportunity-crawler/internal/storage"
)

// Runner starts crawler workflows.
type Runner interface {
	Discover(ctx context.Context, opts crawler.DiscoverOptions) (crawler.DiscoverSummary, error)
	Verify(ctx context.Context, opts crawler.VerifyOptions) (crawler.VerifySummary, error)
	Reap(ctx context.Context) (crawler.ReapSummary, error)
}

// OpportunityReader looks up stored rows.
type OpportunityReader interface {
	GetOpportunity(ctx context.Context, key opportunity.Key) (opportunity.Opportunity, error)
}

// Options configures a Server.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	Ready          func(ctx context.Context) error
}

// Server wires HTTP handlers to the crawler and store.
type Server struct {
	router chi.Router
	runner Runner
	reader OpportunityReader
	ready  func(ctx context.Context) error
	logger *zap.Logger
	runs   *runTracker

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, reader OpportunityReader, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		reader:  reader,
		ready:   opts.Ready,
		logger:  logger,
		runs:    newRunTracker(),
		baseCtx: ctx,
		cancel:  cancel,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/discover", s.startDiscover)
			r.Post("/verify", s.startVerify)
			r.Post("/reap", s.startReap)
			r.Get("/{run_id}", s.getRun)
		})
		r.Get("/opportunities", s.getOpportunity)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels runs started over HTTP and waits for them to return or
// for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type discoverRequest struct {
	ProgramType string   `json:"program_type"`
	SourceIDs   []string `json:"source_ids"`
}

type verifyRequest struct {
	ProgramType string `json:"program_type"`
	Limit       int    `json:"limit"`
}

func (s *Server) startDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	opts := crawler.DiscoverOptions{ProgramType: req.ProgramType, SourceIDs: req.SourceIDs}
	s.start(w, workflowDiscover, func(ctx context.Context) (any, error) {
		return s.runner.Discover(ctx, opts)
	})
}

func (s *Server) startVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be >= 0")
		return
	}
	opts := crawler.VerifyOptions{ProgramType: req.ProgramType, Limit: req.Limit}
	s.start(w, workflowVerify, func(ctx context.Context) (any, error) {
		return s.runner.Verify(ctx, opts)
	})
}

func (s *Server) startReap(w http.ResponseWriter, _ *http.Request) {
	s.start(w, workflowReap, func(ctx context.Context) (any, error) {
		return s.runner.Reap(ctx)
	})
}

// start launches fn in the background. A workflow already running rejects
// the request with 409.
func (s *Server) start(w http.ResponseWriter, workflow string, fn func(context.Context) (any, error)) {
	run, ok := s.runs.begin(uuid.NewString(), workflow, time.Now().UTC())
	if !ok {
		writeError(w, http.StatusConflict, workflow+" run already in progress")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger := s.logger.With(zap.String("workflow", workflow), zap.String("request_run_id", run.ID))
		summary, err := fn(s.baseCtx)
		if err != nil {
			logger.Error("run failed", zap.Error(err))
		} else {
			logger.Info("run finished")
		}
		s.runs.finish(run.ID, summary, err, time.Now().UTC())
	}()
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.get(chi.URLParam(r, "run_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getOpportunity(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		writeError(w, http.StatusNotImplemented, "opportunity lookup unavailable")
		return
	}
	key := opportunity.Key{
		CanonicalURL: r.URL.Query().Get("url"),
		ProgramType:  r.URL.Query().Get("program_type"),
	}
	if key.CanonicalURL == "" || key.ProgramType == "" {
		writeError(w, http.StatusBadRequest, "url and program_type required")
		return
	}
	if canonical, err := crawler.NormalizeURL(key.CanonicalURL); err == nil {
		key.CanonicalURL = canonical
	}
	opp, err := s.reader.GetOpportunity(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "opportunity not found")
		return
	}
	if err != nil {
		s.logger.Error("opportunity lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

// decodeOptional decodes a JSON body if one was sent. It writes a 400 and
// returns false on malformed input.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+strings.TrimPrefix(err.Error(), "json: "))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

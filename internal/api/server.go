// Package api exposes the forecast orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/yieldforecast/forecaster/internal/forecast"
	"github.com/yieldforecast/forecaster/internal/log"
	"github.com/yieldforecast/forecaster/internal/model"
)

// UserHeader names the caller when the request body does not.
const UserHeader = "X-User-ID"

const maxBody = 1 << 20

type Forecaster interface {
	SubmitRun(ctx context.Context, req model.JobRequest) (forecast.Submission, error)
	Status() model.Status
	CheckAvailability(ctx context.Context, req model.JobRequest) (model.Availability, error)
}

type RunReader interface {
	GetRun(ctx context.Context, runID string) (model.Run, error)
}

type Options struct {
	Forecaster Forecaster
	// optional
	Runs RunReader
	// Executable and ProjectID are reported by the health endpoint.
	Executable string
	ProjectID  string
	// AvailabilityRate limits availability checks per second, 0 disables
	// the limit.
	AvailabilityRate  float64
	AvailabilityBurst int
}

type Server struct {
	opts    Options
	limiter *rate.Limiter
}

func New(opts Options) *Server {
	s := &Server{opts: opts}
	if opts.AvailabilityRate > 0 {
		burst := max(opts.AvailabilityBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(opts.AvailabilityRate), burst)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithCode(w, r, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithCode(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	})

	handlers := map[string]http.HandlerFunc{
		"submitRun":         s.submitRun,
		"getStatus":         s.getStatus,
		"checkAvailability": s.checkAvailability,
		"getRun":            s.getRun,
		"checkHealth":       s.checkHealth,
	}
	for name, ep := range Endpoints() {
		h, ok := handlers[name]
		if !ok {
			panic(fmt.Sprintf("endpoint %s has no handler", name))
		}
		r.Method(ep.Method, ep.Path, h)
	}
	return r
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type runResponse struct {
	forecast.Submission
	Message string `json:"message"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(w, r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	sub, err := s.opts.Forecaster.SubmitRun(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if sub.Cached {
		respond(w, r, http.StatusOK, runResponse{Submission: sub, Message: "completed (cached)"})
		return
	}
	respond(w, r, http.StatusAccepted, runResponse{Submission: sub, Message: "Forecast started"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.opts.Forecaster.Status())
}

func (s *Server) checkAvailability(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		respondWithCode(w, r, http.StatusTooManyRequests, CodeRateLimited, "too many availability checks, retry later")
		return
	}
	req, err := decodeRequest(w, r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a, err := s.opts.Forecaster.CheckAvailability(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, a)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		respondWithError(w, r, model.ErrNotFound)
		return
	}
	run, err := s.opts.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, run)
}

type health struct {
	Status            string `json:"status"`
	Executable        string `json:"executable"`
	ProjectConfigured bool   `json:"projectConfigured"`
	ProjectID         string `json:"projectId,omitempty"`
}

func (s *Server) checkHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, health{
		Status:            "UP",
		Executable:        s.opts.Executable,
		ProjectConfigured: s.opts.ProjectID != "",
		ProjectID:         mask(s.opts.ProjectID),
	})
}

func mask(id string) string {
	if id == "" {
		return ""
	}
	if len(id) > 15 {
		id = id[:15]
	}
	return id + "..."
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (model.JobRequest, error) {
	var req model.JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&req); err != nil {
		return model.JobRequest{}, &model.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	if req.OwnerUserID == nil {
		if h := r.Header.Get(UserHeader); h != "" {
			id, err := strconv.ParseUint(h, 10, 64)
			if err != nil {
				return model.JobRequest{}, &model.ValidationError{Field: UserHeader, Message: "must be a positive integer"}
			}
			req.OwnerUserID = &id
		}
	}
	return req, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextAttrs(r.Context(), slog.String("request_id", middleware.GetReqID(r.Context())))
		r = r.WithContext(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.InfoContext(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

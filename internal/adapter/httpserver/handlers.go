package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/trustbench/trustbench/internal/agents"
	"github.com/trustbench/trustbench/internal/config"
	"github.com/trustbench/trustbench/internal/domain"
	"github.com/trustbench/trustbench/internal/profile"
	"github.com/trustbench/trustbench/internal/usecase"
)

// ReadyCheck probes one dependency for the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg      config.Config
	Jobs     usecase.JobManager
	Runs     usecase.RunQuery
	Profiles *profile.Store
	Checks   []ReadyCheck
}

// NewServer constructs a Server with all handlers wired.
func NewServer(cfg config.Config, jobs usecase.JobManager, runs usecase.RunQuery, profiles *profile.Store, checks ...ReadyCheck) *Server {
	return &Server{Cfg: cfg, Jobs: jobs, Runs: runs, Profiles: profiles, Checks: checks}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// acceptsJSON rejects requests whose Accept header excludes JSON. The
// API only speaks JSON.
func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]string{"accept": a},
	}})
	return false
}

func validationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return details
}

// AnalyzeHandler accepts a repository for evaluation and returns the
// queued job.
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			RepoURL string `json:"repo_url" validate:"required,url,max=500"`
			Profile string `json:"profile" validate:"omitempty,max=100"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		if req.Profile != "" {
			if _, err := s.Profiles.Load(req.Profile); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					err = fmt.Errorf("%w: unknown profile %q", domain.ErrInvalidArgument, req.Profile)
				}
				writeError(w, err, nil)
				return
			}
		}

		job, err := s.Jobs.Submit(r.Context(), req.RepoURL, req.Profile)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
	}
}

// StatusHandler returns the stored job by id.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		job, err := s.Jobs.Get(id)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job": job})
	}
}

// LatestRunHandler returns the most recent completed run.
func (s *Server) LatestRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.Runs.Latest()
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// VerdictHandler returns the verdict of the most recent completed run.
func (s *Server) VerdictHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		verdict, err := s.Runs.Verdict()
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"verdict": verdict})
	}
}

// RunsHandler lists all stored runs, newest first.
func (s *Server) RunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.Runs.List()
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}

// AgentsHandler returns the evaluator roster for UI display.
func (s *Server) AgentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"agents": agents.Manifest()})
	}
}

// PromoteBaselineHandler snapshots the latest run as the baseline.
func (s *Server) PromoteBaselineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Note string `json:"note" validate:"omitempty,max=500"`
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
			// An empty body means "no note"; anything else must parse.
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}

		dir, err := s.Runs.PromoteBaseline(req.Note)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "promoted",
			"stdout": dir,
		})
	}
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes every registered dependency and answers 503 when
// one is down.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready := true
		checks := make([]check, 0, len(s.Checks))
		for _, c := range s.Checks {
			if err := c.Probe(ctx); err != nil {
				ready = false
				checks = append(checks, check{Name: c.Name, OK: false, Details: err.Error()})
				continue
			}
			checks = append(checks, check{Name: c.Name, OK: true})
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}

// Package server exposes the kernel over HTTP: JSON transition endpoints
// with role-based authorization, a status read, and the cached integrity
// report. In strict mode the server refuses to start while integrity fails.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/governedworks/wbs/internal/integrity"
	"github.com/governedworks/wbs/internal/kernel"
	"github.com/governedworks/wbs/internal/types"
)

// Options tune server construction.
type Options struct {
	// IntegrityMode is fast or full (defaults to fast).
	IntegrityMode string
	// Strict refuses to construct the server when the startup integrity
	// report is not ok.
	Strict bool
}

// Server is the HTTP adapter over one kernel.
type Server struct {
	Kernel *kernel.Kernel
	mode   string

	mu     sync.RWMutex
	report *integrity.Report
}

// New verifies project integrity and wraps the kernel. With Options.Strict
// a failing report is returned as an IntegrityError and no server is built.
func New(k *kernel.Kernel, opts Options) (*Server, error) {
	mode := integrity.NormalizeMode(opts.IntegrityMode)
	st, err := k.Store.Load()
	if err != nil {
		return nil, err
	}
	report, err := integrity.Verify(k.Ledger, st, k.ConfigLockPath(), mode)
	if err != nil {
		return nil, err
	}
	if !report.OK && opts.Strict {
		return nil, types.NewError(types.ErrIntegrity,
			"startup integrity check failed (strict mode): %d errors", report.IntegrityErrors)
	}
	return &Server{Kernel: k, mode: mode, report: report}, nil
}

// Report returns the most recent integrity report.
func (s *Server) Report() *integrity.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// RefreshReport recomputes the integrity report from the current state.
func (s *Server) RefreshReport() error {
	st, err := s.Kernel.Store.Load()
	if err != nil {
		return err
	}
	report, err := integrity.Verify(s.Kernel.Ledger, st, s.Kernel.ConfigLockPath(), s.mode)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	return nil
}

// Watch refreshes the cached integrity report whenever the state file
// changes, until ctx is cancelled. Watcher failures degrade to the cached
// report; they never take the server down.
func (s *Server) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(kernel.ProjectDir(s.Kernel.Root)); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		stateFile := filepath.Base(s.Kernel.Store.Path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == stateFile && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					_ = s.RefreshReport()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/integrity", s.handleIntegrity)
	r.Post("/v1/claim", s.handleTransition("claim"))
	r.Post("/v1/done", s.handleTransition("done"))
	r.Post("/v1/note", s.handleTransition("note"))
	r.Post("/v1/fail", s.handleTransition("fail"))
	return r
}

// ListenAndServe binds addr and serves until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

type transitionRequest struct {
	PacketID string `json:"packet_id"`
	Agent    string `json:"agent"`
	Notes    string `json:"notes"`
	Reason   string `json:"reason"`
	Role     string `json:"role"`
}

type transitionResponse struct {
	OK      bool   `json:"ok"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := s.Kernel.Status()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, transitionResponse{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": st})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, _ *http.Request) {
	report := s.Report()
	code := http.StatusOK
	if !report.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleTransition(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, transitionResponse{OK: false, Action: action, Message: "invalid JSON body"})
			return
		}
		role := req.Role
		if role == "" {
			role = RoleOperator
		}
		if !RoleAllows(role, action) {
			writeJSON(w, http.StatusForbidden, transitionResponse{OK: false, Action: action, Message: "forbidden"})
			return
		}
		agent := req.Agent
		if agent == "" {
			agent = "api"
		}

		var res *kernel.TransitionResult
		var err error
		switch action {
		case "claim":
			res, err = s.Kernel.Claim(req.PacketID, agent)
		case "done":
			res, err = s.Kernel.Done(req.PacketID, agent, req.Notes)
		case "note":
			res, err = s.Kernel.Note(req.PacketID, agent, req.Notes)
		case "fail":
			res, err = s.Kernel.Fail(req.PacketID, agent, req.Reason)
		}
		if err != nil {
			writeJSON(w, statusForError(err), transitionResponse{OK: false, Action: action, Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, transitionResponse{OK: true, Action: action, Message: res.Message})
	}
}

func statusForError(err error) int {
	var ke *types.Error
	if !errors.As(err, &ke) {
		return http.StatusInternalServerError
	}
	switch ke.Kind {
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrLockTimeout:
		return http.StatusServiceUnavailable
	case types.ErrIO, types.ErrIntegrity:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

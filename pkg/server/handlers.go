package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/logger"
	"github.com/devicelab-dev/selfheal/pkg/memory"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Targets    int    `json:"targets"`
	VMSScreens int    `json:"vmsScreens"`
	Resolve    bool   `json:"resolve"`
}

// ResolveRequest is the body of POST /resolve.
type ResolveRequest struct {
	Target         core.Target `json:"target"`
	ScreenshotPath string      `json:"screenshotPath"`
	ScreenLabel    string      `json:"screenLabel,omitempty"`
	Platform       string      `json:"platform,omitempty"`
	RunID          string      `json:"runId,omitempty"`
	StepID         string      `json:"stepId,omitempty"`
	Strategies     []string    `json:"strategies,omitempty"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth reports liveness and store sizes.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Resolve: s.engine != nil,
	}
	names, err := s.archive.Names(r.Context())
	if err != nil {
		resp.Status = "degraded"
		logger.Warn("server: list memory: %v", err)
	}
	resp.Targets = len(names)
	if s.index != nil {
		resp.VMSScreens = s.index.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMemoryList lists every remembered target name.
// GET /memory
func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	names, err := s.archive.Names(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"targets": names})
}

// handleMemoryEntry returns one target's recipes, ranked, and visual hints.
// GET /memory/{name}
func (s *Server) handleMemoryEntry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	entry, ok, err := s.archive.Entry(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown target: "+name))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleMemoryExport returns the whole memory as a snapshot.
// GET /memory/export
func (s *Server) handleMemoryExport(w http.ResponseWriter, r *http.Request) {
	snap, err := memory.Export(r.Context(), s.archive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleResolve runs the cascade for a screenshot on the server's filesystem.
// Resolution is read-only; callers record confirmed outcomes themselves.
// POST /resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusNotImplemented, errors.New("resolve is not enabled on this server"))
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	hreq := heal.Request{
		Target:         req.Target,
		ScreenshotPath: req.ScreenshotPath,
		ScreenLabel:    req.ScreenLabel,
		Platform:       req.Platform,
		RunID:          req.RunID,
		StepID:         req.StepID,
	}
	for _, name := range req.Strategies {
		st, err := heal.ParseStrategy(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		hreq.Enabled = append(hreq.Enabled, st)
	}
	if len(req.Strategies) == 0 {
		hreq.Enabled = s.strategies
	}

	res, err := s.engine.Resolve(r.Context(), hreq)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrInvalidTarget) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

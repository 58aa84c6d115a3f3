package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/studentutu/shipyard/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	RunState  string `json:"run_state"`
	Running   bool   `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		RunState:  s.controller.State().String(),
		Running:   s.controller.IsRunning(),
	})
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	targets := s.controller.Targets()
	if targets == nil {
		targets = []model.Target{}
	}
	respondOK(w, reqID, targets)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code:    model.ErrValidation,
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs", "error", err, "request_id", reqID)
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError("failed to list runs"))
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondOK(w, reqID, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.logger.Error("get run", "run_id", id, "error", err, "request_id", reqID)
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError("failed to load run"))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, run)
}

type startRunRequest struct {
	ForceBuild bool `json:"force_build"`
}

// handleStartRun kicks off a distribution in the background. The run is
// advanced by the tick driver; clients poll run state through the history
// endpoints.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req startRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code:    model.ErrValidation,
				Message: "invalid request body: " + err.Error(),
			})
			return
		}
	}

	if s.controller.IsRunning() {
		respondError(w, reqID, http.StatusConflict, model.NewConflictError("a run is already in progress"))
		return
	}

	// Builds are synchronous and can take a while; run the whole session
	// off the request goroutine with a context that outlives the request.
	// The controller's own re-entrancy guard covers the race between the
	// check above and this start.
	go s.controller.Distribute(context.Background(), req.ForceBuild)

	respondAccepted(w, reqID, map[string]any{"force_build": req.ForceBuild})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if !s.controller.IsRunning() {
		respondError(w, reqID, http.StatusConflict, model.NewConflictError("no run in progress"))
		return
	}
	s.controller.Cancel()
	respondOK(w, reqID, map[string]string{"result": "cancellation requested"})
}

func (s *Server) handleForceCancelRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	s.controller.ForceCancel()
	respondOK(w, reqID, map[string]string{"result": "run force-cancelled"})
}

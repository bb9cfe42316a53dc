package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/riftdl/riftdl/internal/config"
	"github.com/riftdl/riftdl/internal/manager"
)

type addTaskRequest struct {
	URL       string   `json:"url"`
	OutputDir string   `json:"output_dir"`
	Priority  int      `json:"priority"`
	Mirrors   []string `json:"mirrors,omitempty"`
}

type addTaskResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OutputDir == "" {
		req.OutputDir = config.DefaultSettings().General.DefaultDownloadDir
	}

	var (
		id      string
		created bool
		err     error
	)
	if len(req.Mirrors) > 0 {
		results := s.mgr.AddBatch([]manager.Submission{{
			URL: req.URL, OutputDir: req.OutputDir, Priority: req.Priority, Mirrors: req.Mirrors,
		}})
		id, created, err = results[0].ID, results[0].Created, results[0].Err
	} else {
		id, created, err = s.mgr.AddTask(req.URL, req.OutputDir, req.Priority)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, addTaskResponse{ID: id, Created: created})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.GetTasks())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.mgr.GetTask(id)
	if !ok {
		writeError(w, http.StatusNotFound, manager.ErrUnknownTask)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Remove(id); err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskAction string

const (
	actionStart  taskAction = "start"
	actionPause  taskAction = "pause"
	actionResume taskAction = "resume"
	actionCancel taskAction = "cancel"
)

// handleTaskAction returns a handler for one of the single-task lifecycle
// routes; each just forwards id to the matching Manager method.
func (s *Server) handleTaskAction(action taskAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var err error
		switch action {
		case actionStart:
			err = s.mgr.Start(id)
		case actionPause:
			err = s.mgr.Pause(id)
		case actionResume:
			err = s.mgr.Resume(id)
		case actionCancel:
			err = s.mgr.Cancel(id)
		}
		if err != nil {
			writeError(w, statusForErr(err), err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type bulkResponse struct {
	Affected int `json:"affected"`
}

// handleBulk returns a handler for one of the /control/* routes, each of
// which runs one Manager bulk operation and reports how many tasks it
// touched.
func (s *Server) handleBulk(op func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, bulkResponse{Affected: op()})
	}
}

type rateLimitRequest struct {
	BytesPerSec *int64 `json:"bytes_per_sec"`
}

type rateLimitResponse struct {
	BytesPerSec int64 `json:"bytes_per_sec"`
}

func (s *Server) handleSetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	applied := s.mgr.SetRateLimit(req.BytesPerSec)
	writeJSON(w, http.StatusOK, rateLimitResponse{BytesPerSec: applied})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.GetStats())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.GetConfig())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.mgr.UpdateConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.GetConfig())
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.mgr.GetHistory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForErr maps a Manager sentinel error to the HTTP status the
// control surface reports it as.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, manager.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrInvalidTransition), errors.Is(err, manager.ErrPauseUnsupported),
		errors.Is(err, manager.ErrInvalidURL):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

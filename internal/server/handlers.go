package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jamesturk/bobsled/internal/app"
	"github.com/jamesturk/bobsled/internal/logger"
	"github.com/jamesturk/bobsled/internal/runner"
	"github.com/jamesturk/bobsled/internal/storage"
	"github.com/jamesturk/bobsled/pkg/api"
)

// handlers holds the HTTP handlers and their dependencies.
type handlers struct {
	app *app.App
}

func newHandlers(a *app.App) *handlers {
	return &handlers{app: a}
}

func (h *handlers) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJSON(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func runResponse(r *storage.Run) api.RunResponse {
	return api.RunResponse{
		UUID:     r.UUID,
		Task:     r.Task,
		Status:   string(r.Status),
		Start:    r.Start,
		End:      r.End,
		ExitCode: r.ExitCode,
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startRun handles POST /tasks/{name}/run.
func (h *handlers) startRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, h.app.Log)
	name := r.PathValue("name")

	task, err := h.app.Storage.GetTask(ctx, name)
	if err != nil {
		log.Error("failed to load task", "task", name, "error", err)
		h.httpError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if task == nil {
		h.httpError(w, "unknown task", http.StatusNotFound)
		return
	}
	if !task.Enabled {
		h.httpError(w, "task is disabled", http.StatusConflict)
		return
	}

	run, err := h.app.Runner.RunTask(ctx, task)
	if errors.Is(err, runner.ErrAlreadyRunning) {
		h.httpError(w, "task already has an active run", http.StatusConflict)
		return
	}
	if err != nil {
		log.Error("failed to start run", "task", name, "error", err)
		h.httpError(w, "failed to start run", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusCreated, api.StartRunResponse{RunID: run.UUID})
}

// listTasks handles GET /tasks.
func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.app.Storage.GetTasks(r.Context())
	if err != nil {
		h.httpError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, tasks)
}

// listRuns handles GET /runs with status, task, latest and update_status
// query parameters.
func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := storage.RunFilter{TaskName: q.Get("task")}
	for _, s := range q["status"] {
		filter.Statuses = append(filter.Statuses, storage.Status(s))
	}
	if latest := q.Get("latest"); latest != "" {
		n, err := strconv.Atoi(latest)
		if err != nil || n < 1 {
			h.httpError(w, "invalid latest parameter", http.StatusBadRequest)
			return
		}
		filter.Latest = n
	}
	updateStatus := q.Get("update_status") == "true"

	runs, err := h.app.Runner.GetRuns(ctx, filter, updateStatus)
	if err != nil {
		logger.FromContext(ctx, h.app.Log).Error("failed to list runs", "error", err)
		h.httpError(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := api.RunListResponse{Runs: make([]api.RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, runResponse(run))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// getRun handles GET /runs/{id}; it refreshes status and logs first.
func (h *handlers) getRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := h.app.Storage.GetRun(ctx, id)
	if err != nil {
		h.httpError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		h.httpError(w, "unknown run", http.StatusNotFound)
		return
	}

	run, err = h.app.Runner.UpdateStatus(ctx, id, true)
	if err != nil {
		logger.FromContext(ctx, h.app.Log).Error("failed to refresh run", "run_id", id, "error", err)
		h.httpError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, runResponse(run))
}

// getLogs handles GET /runs/{id}/logs. Terminal runs serve the persisted
// snapshot; live runs fetch from the backend.
func (h *handlers) getLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := h.app.Storage.GetRun(ctx, id)
	if err != nil {
		h.httpError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		h.httpError(w, "unknown run", http.StatusNotFound)
		return
	}

	logs := run.Logs
	if !run.Status.Terminal() {
		logs, err = h.app.Runner.GetLogs(ctx, run)
		if err != nil {
			logger.FromContext(ctx, h.app.Log).Error("failed to fetch logs", "run_id", id, "error", err)
			h.httpError(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, api.LogsResponse{RunID: id, Logs: logs})
}

// stopRun handles DELETE /runs/{id}.
func (h *handlers) stopRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	run, err := h.app.Storage.GetRun(ctx, id)
	if err != nil {
		h.httpError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		h.httpError(w, "unknown run", http.StatusNotFound)
		return
	}

	if err := h.app.Runner.StopRun(ctx, id); err != nil {
		logger.FromContext(ctx, h.app.Log).Error("failed to stop run", "run_id", id, "error", err)
		h.httpError(w, "failed to stop run", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cleanup handles POST /cleanup.
func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.app.Runner.Cleanup(r.Context())
	if err != nil {
		h.httpError(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, api.CleanupResponse{Removed: removed})
}

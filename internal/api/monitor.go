// monitor.go is the price monitor's HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"optionflow/internal/monitor"
	"optionflow/internal/store"
	"optionflow/pkg/types"
)

// MonitorHandlers serves the monitor task endpoints. Reads go through the
// on-disk snapshot so the API reflects exactly what survives a restart; the
// live service is the fallback for recently finished tasks.
type MonitorHandlers struct {
	svc    *monitor.Service
	store  *store.Store
	logger *slog.Logger
}

// NewMonitorMux builds the monitor API routes.
func NewMonitorMux(svc *monitor.Service, st *store.Store, logger *slog.Logger) *http.ServeMux {
	h := &MonitorHandlers{svc: svc, store: st, logger: logger.With("component", "monitor_api")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/monitor/create", h.handleCreate)
	mux.HandleFunc("GET /api/monitor/tasks", h.handleList)
	mux.HandleFunc("GET /api/monitor/{task_id}", h.handleGet)
	mux.HandleFunc("DELETE /api/monitor/{task_id}", h.handleDelete)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

func (h *MonitorHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req types.CreateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := h.svc.Create(req)
	switch {
	case errors.Is(err, monitor.ErrDuplicateTask):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, monitor.ErrCapacity):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, monitor.ErrSpotSymbol):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeData(w, task)
	}
}

func (h *MonitorHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.ReadTaskSnapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read task snapshot: "+err.Error())
		return
	}
	writeData(w, map[string]any{
		"tasks":        snap.Tasks,
		"updated_at":   snap.UpdatedAt,
		"active_count": len(snap.Tasks),
	})
}

func (h *MonitorHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if snap, err := h.store.ReadTaskSnapshot(); err == nil {
		for _, t := range snap.Tasks {
			if t.TaskID == taskID {
				writeData(w, t)
				return
			}
		}
	}
	// Not in the snapshot: triggered and expired tasks stay readable from the
	// service until retention evicts them.
	task, ok := h.svc.Get(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeData(w, task)
}

func (h *MonitorHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if !h.svc.Remove(taskID) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeData(w, map[string]string{"task_id": taskID})
}

func (h *MonitorHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !h.svc.Healthy() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response{Success: code == http.StatusOK, Data: map[string]any{
		"status":              status,
		"websocket_connected": h.svc.StreamConnected(),
		"active_tasks":        h.svc.ActiveCount(),
	}})
}

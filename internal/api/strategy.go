// strategy.go is the strategy engine's HTTP API: strategy CRUD, lifecycle
// actions, the trigger webhook sink, the trade log, and the settings and
// watchlist documents.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"optionflow/internal/store"
	"optionflow/internal/strategy"
	"optionflow/pkg/types"
)

// StrategyHandlers serves the strategy engine endpoints.
type StrategyHandlers struct {
	svc    *strategy.Service
	store  *store.Store
	logger *slog.Logger
}

// NewStrategyMux builds the strategy API routes.
func NewStrategyMux(svc *strategy.Service, st *store.Store, logger *slog.Logger) *http.ServeMux {
	h := &StrategyHandlers{svc: svc, store: st, logger: logger.With("component", "strategy_api")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/strategies", h.handleCreate)
	mux.HandleFunc("GET /api/strategies", h.handleList)
	mux.HandleFunc("GET /api/strategies/{strategy_id}", h.handleGet)
	mux.HandleFunc("PUT /api/strategies/{strategy_id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/strategies/{strategy_id}", h.handleDelete)
	mux.HandleFunc("POST /api/strategies/{strategy_id}/pause", h.handlePause)
	mux.HandleFunc("POST /api/strategies/{strategy_id}/resume", h.handleResume)
	mux.HandleFunc("POST /api/strategies/{strategy_id}/stop", h.handleStop)
	mux.HandleFunc("POST /api/strategies/webhook", h.handleWebhook)
	// The literal segment wins over the {strategy_id} wildcard.
	mux.HandleFunc("GET /api/strategies/trades", h.handleTrades)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	mux.HandleFunc("GET /api/watchlist", h.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist", h.handlePutWatchlist)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

func (h *StrategyHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req strategy.CreateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	st, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, st)
}

func (h *StrategyHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.svc.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]any{"strategies": strategies})
}

func (h *StrategyHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Get(r.PathValue("strategy_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, st)
}

func (h *StrategyHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req strategy.UpdateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	st, err := h.svc.Update(r.Context(), r.PathValue("strategy_id"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, st)
}

func (h *StrategyHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("strategy_id")
	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, map[string]string{"strategy_id": id})
}

func (h *StrategyHandlers) handlePause(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Pause(r.Context(), r.PathValue("strategy_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, st)
}

func (h *StrategyHandlers) handleResume(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Resume(r.Context(), r.PathValue("strategy_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, st)
}

func (h *StrategyHandlers) handleStop(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stop(r.Context(), r.PathValue("strategy_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeData(w, st)
}

func (h *StrategyHandlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload types.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}
	err := h.svc.HandleWebhook(payload)
	switch {
	case errors.Is(err, strategy.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown strategy or level")
	case errors.Is(err, strategy.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeData(w, map[string]string{"task_id": payload.TaskID})
	}
}

func (h *StrategyHandlers) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	trades, err := h.svc.Trades(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]any{"trades": trades})
}

func (h *StrategyHandlers) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.LoadSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, settings)
}

func (h *StrategyHandlers) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	if err := h.store.SaveSettings(settings); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, settings)
}

func (h *StrategyHandlers) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.LoadWatchlist()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]any{"watchlist": items})
}

func (h *StrategyHandlers) handlePutWatchlist(w http.ResponseWriter, r *http.Request) {
	var items []types.WatchlistItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid watchlist: "+err.Error())
		return
	}
	now := time.Now().UTC()
	for i := range items {
		if items[i].Symbol == "" {
			writeError(w, http.StatusBadRequest, "watchlist entries need a symbol")
			return
		}
		if items[i].AddedAt.IsZero() {
			items[i].AddedAt = now
		}
	}
	if err := h.store.SaveWatchlist(items); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, map[string]any{"watchlist": items})
}

func (h *StrategyHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{
		"status":      "ok",
		"queue_depth": h.svc.QueueDepth(),
	})
}

func (h *StrategyHandlers) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, strategy.ErrNotFound) {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

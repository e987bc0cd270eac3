package query

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chenqi146/parking-watch/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler is the thin HTTP layer over Facade, grounded on
// internal/api/nvr_discovery_handlers.go's {"data":..., "total":...}
// envelope and query-param-into-filter-struct pattern.
type Handler struct {
	facade *Facade
	hub    *Hub
}

func NewHandler(f *Facade, hub *Hub) *Handler {
	return &Handler{facade: f, hub: hub}
}

// Register mounts the facade's routes, mirroring internal/hlsd/handlers.go's
// Handler.Register(r chi.Router) shape.
func (h *Handler) Register(r chi.Router) {
	r.Get("/tasks", h.listTasks)
	r.Get("/task-configs", h.listTaskConfigs)
	r.Get("/changes", h.listChanges)
	r.Get("/changes/stream", h.hub.ServeWS)
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	offset = 0
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= maxLimit {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(r)

	f := store.TaskFilter{
		Date:    strPtr(q.Get("date")),
		IP:      strPtr(q.Get("ip")),
		Channel: strPtr(q.Get("channel")),
	}
	if statuses, ok := q["status"]; ok {
		f.StatusIn = statuses
	}
	if v, err := strconv.ParseInt(q.Get("start_ts_from"), 10, 64); err == nil {
		f.StartTSFrom = &v
	}
	if v, err := strconv.ParseInt(q.Get("start_ts_to"), 10, 64); err == nil {
		f.StartTSTo = &v
	}

	tasks, total, err := h.facade.ListTasks(r.Context(), f, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"data": tasks, "total": total})
}

func (h *Handler) listTaskConfigs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(r)

	f := store.TaskConfigFilter{
		Date:    strPtr(q.Get("date")),
		IP:      strPtr(q.Get("ip")),
		Channel: strPtr(q.Get("channel")),
	}

	configs, total, err := h.facade.ListTaskConfigs(r.Context(), f, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"data": configs, "total": total})
}

func (h *Handler) listChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(r)

	f := store.ChangeFilter{
		IP:         strPtr(q.Get("ip")),
		Channel:    strPtr(q.Get("channel")),
		ChangeType: strPtr(q.Get("change_type")),
	}
	if v, err := strconv.ParseInt(q.Get("detected_from"), 10, 64); err == nil {
		f.DetectedFrom = &v
	}
	if v, err := strconv.ParseInt(q.Get("detected_to"), 10, 64); err == nil {
		f.DetectedTo = &v
	}

	changes, total, err := h.facade.ListChanges(r.Context(), f, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"data": changes, "total": total})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

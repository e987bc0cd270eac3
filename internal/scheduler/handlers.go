package scheduler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the scheduler's explicit trigger operations (spec.md
// §4.5: run-now, rerun) over HTTP, grounded on the same thin-handler shape
// internal/hlsd/handlers.go and internal/query/handlers.go use.
type Handler struct {
	sched *Scheduler
}

func NewHandler(s *Scheduler) *Handler {
	return &Handler{sched: s}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/tasks/run-now", h.runNow)
	r.Post("/tasks/{id}/rerun", h.rerunTask)
	r.Post("/tasks/rerun-matching", h.rerunMatching)
}

type runNowRequest struct {
	Day             string `json:"day"`
	BaseRTSP        string `json:"base_rtsp"`
	Channel         string `json:"channel"`
	IntervalMinutes int    `json:"interval_minutes"`
}

func (h *Handler) runNow(w http.ResponseWriter, r *http.Request) {
	var req runNowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	n, err := h.sched.RunNow(r.Context(), req.Day, req.BaseRTSP, req.Channel, req.IntervalMinutes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"submitted": n})
}

func (h *Handler) rerunTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sched.RerunTask(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"rerun": id})
}

type rerunMatchingRequest struct {
	Date    string  `json:"date"`
	IP      *string `json:"ip"`
	Channel *string `json:"channel"`
}

func (h *Handler) rerunMatching(w http.ResponseWriter, r *http.Request) {
	var req rerunMatchingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	n, err := h.sched.RerunMatching(r.Context(), req.Date, req.IP, req.Channel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"submitted": n})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package hlsgw

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chenqi146/parking-watch/internal/platform/paths"
)

// fingerprintRegex/fileRegex bound the chi URL params before they ever touch
// the filesystem, grounded on internal/hlsd/handlers.go's idRegex/fileRegex pair.
var (
	fingerprintRegex = regexp.MustCompile(`^[a-f0-9]{16}$`)
	fileRegex        = regexp.MustCompile(`^[a-zA-Z0-9_\-]+\.(m3u8|ts)$`)
)

// Handler exposes the manager over HTTP: a start endpoint that spawns (or
// reuses) a transcoder and returns its playlist URL, and a file server for
// the playlist/segments it writes. Auth is a Non-goal here (spec.md: assumed
// to run behind a trusted boundary) — unlike internal/hlsd/handlers.go's HMAC
// token + RBAC gate, nothing stands between a request and the file.
type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/hls/start", h.start)
	r.Get("/hls/{fingerprint}/{file}", h.serveFile)
}

type startRequest struct {
	RTSPURL string `json:"rtsp_url"`
}

type startResponse struct {
	Playlist string `json:"playlist"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RTSPURL == "" {
		http.Error(w, "rtsp_url is required", http.StatusBadRequest)
		return
	}

	playlist, err := h.mgr.Start(r.Context(), req.RTSPURL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	fp := Fingerprint(req.RTSPURL)
	writeJSON(w, startResponse{Playlist: "/hls/" + fp + "/" + playlistFile(playlist)})
}

func playlistFile(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	file := chi.URLParam(r, "file")
	if !fingerprintRegex.MatchString(fp) || !fileRegex.MatchString(file) {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	target, err := paths.SafeJoin(h.mgr.root, fp, file)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	switch {
	case strings.HasSuffix(file, ".m3u8"):
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	case strings.HasSuffix(file, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Cache-Control", "no-store")
	}
	http.ServeFile(w, r, target)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

package hlsgw

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, m *Manager) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(m).Register(r)
	return r
}

func TestServeFileRejectsMalformedFingerprint(t *testing.T) {
	m := New(t.TempDir(), time.Minute, nil)
	defer m.Stop()
	r := newTestRouter(t, m)

	req := httptest.NewRequest(http.MethodGet, "/hls/not-a-hex-fingerprint/index.m3u8", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeFileRejectsDisallowedFileName(t *testing.T) {
	m := New(t.TempDir(), time.Minute, nil)
	defer m.Stop()
	r := newTestRouter(t, m)

	fp := "0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/hls/"+fp+"/..%2F..%2Fetc%2Fpasswd", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeFileServesExistingPlaylist(t *testing.T) {
	root := t.TempDir()
	m := New(root, time.Minute, nil)
	defer m.Stop()
	r := newTestRouter(t, m)

	fp := "0123456789abcdef"
	require.NoError(t, os.MkdirAll(filepath.Join(root, fp), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, fp, "index.m3u8"), []byte("#EXTM3U\n"), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/hls/"+fp+"/index.m3u8", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/vnd.apple.mpegurl", w.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(w.Body.String(), "#EXTM3U"))
}

func TestStartRejectsEmptyRTSPURL(t *testing.T) {
	m := New(t.TempDir(), time.Minute, nil)
	defer m.Stop()
	r := newTestRouter(t, m)

	req := httptest.NewRequest(http.MethodPost, "/hls/start", strings.NewReader(`{"rtsp_url":""}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

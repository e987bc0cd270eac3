package scheduler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/chenqi146/parking-watch/internal/store"
)

func newTestRouter(t *testing.T, s *Scheduler) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(s).Register(r)
	return r
}

func TestRerunTaskHandlerSubmitsOnSuccessfulRearm(t *testing.T) {
	s, mock, sub := newTestScheduler(t)
	r := newTestRouter(t, s)

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(store.TaskPending, "t1", store.TaskPlaying).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/tasks/t1/rerun", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"t1"}, sub.submitted())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunNowHandlerRejectsMalformedBody(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	r := newTestRouter(t, s)

	req := httptest.NewRequest(http.MethodPost, "/tasks/run-now", strings.NewReader("not-json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunNowHandlerRejectsInvalidBaseRTSP(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	r := newTestRouter(t, s)

	body := `{"day":"2026-07-31","base_rtsp":"not-a-url","channel":"c1","interval_minutes":10}`
	req := httptest.NewRequest(http.MethodPost, "/tasks/run-now", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

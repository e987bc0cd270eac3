package query

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/chenqi146/parking-watch/internal/blob"
	"github.com/chenqi146/parking-watch/internal/store"
)

func newTestFacade(t *testing.T) (*Facade, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(store.New(db), blob.New(t.TempDir())), mock
}

func TestListTasksDoesNotFlagPresentScreenshot(t *testing.T) {
	q, mock := newTestFacade(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM tasks").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	present := "present.jpg"
	require.NoError(t, q.blob.Put(present, []byte("x")))

	mock.ExpectQuery("SELECT id, date, index").WillReturnRows(sqlmock.NewRows([]string{
		"id", "date", "index", "start_ts", "end_ts", "rtsp_url", "ip", "channel", "status",
		"screenshot_path", "error", "operation_time",
	}).AddRow("t1", "2026-07-31", 0, int64(0), int64(899), "rtsp://u:p@10.0.0.1/c1", "10.0.0.1", "c1",
		store.TaskScreenshotTaken, present, nil, time.Now()))

	views, total, err := q.ListTasks(context.Background(), store.TaskFilter{}, 50, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, views, 1)
	require.False(t, views[0].ScreenshotMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasksFlagsMissingScreenshotWhenBlobAbsent(t *testing.T) {
	q, mock := newTestFacade(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM tasks").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	missing := "missing.jpg"
	mock.ExpectQuery("SELECT id, date, index").WillReturnRows(sqlmock.NewRows([]string{
		"id", "date", "index", "start_ts", "end_ts", "rtsp_url", "ip", "channel", "status",
		"screenshot_path", "error", "operation_time",
	}).AddRow("t1", "2026-07-31", 0, int64(0), int64(899), "rtsp://u:p@10.0.0.1/c1", "10.0.0.1", "c1",
		store.TaskScreenshotTaken, missing, nil, time.Now()))

	views, _, err := q.ListTasks(context.Background(), store.TaskFilter{}, 50, 0)
	require.NoError(t, err)
	require.True(t, views[0].ScreenshotMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTasksTreatsNoScreenshotPathAsMissing(t *testing.T) {
	q, mock := newTestFacade(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM tasks").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id, date, index").WillReturnRows(sqlmock.NewRows([]string{
		"id", "date", "index", "start_ts", "end_ts", "rtsp_url", "ip", "channel", "status",
		"screenshot_path", "error", "operation_time",
	}).AddRow("t1", "2026-07-31", 0, int64(0), int64(899), "rtsp://u:p@10.0.0.1/c1", "10.0.0.1", "c1",
		store.TaskPending, nil, nil, time.Now()))

	views, _, err := q.ListTasks(context.Background(), store.TaskFilter{}, 50, 0)
	require.NoError(t, err)
	require.True(t, views[0].ScreenshotMissing)
}

func TestIsMissingCachesNegativeResultAcrossCalls(t *testing.T) {
	q, _ := newTestFacade(t)

	require.True(t, q.isMissing("never-written.jpg"))
	// Writing the file after the first (cached) check must not flip the
	// cached verdict within the TTL window.
	require.NoError(t, q.blob.Put("never-written.jpg", []byte("x")))
	require.True(t, q.isMissing("never-written.jpg"))
}

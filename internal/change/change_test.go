package change

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/chenqi146/parking-watch/internal/store"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *fakePublisher) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pub := &fakePublisher{}
	return New(store.New(db), pub), mock, pub
}

func snapshotRow(id, taskID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "task_id", "image_path", "detected_image_path", "change_count", "detected_at"}).
		AddRow(id, taskID, "/img.jpg", "/img_detected.jpg", 0, time.Now())
}

func taskRow(id, ip, channel string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "date", "index", "start_ts", "end_ts", "rtsp_url", "ip", "channel", "status",
		"screenshot_path", "error", "operation_time",
	}).AddRow(id, "2025-12-19", 0, int64(0), int64(599), "rtsp://x", ip, channel, store.TaskScreenshotTaken, nil, nil, time.Now())
}

func spaceStateRows(spaceID string, occupied store.Occupancy) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "snapshot_id", "space_id", "occupied", "confidence"}).
		AddRow("ss1", "snap", spaceID, occupied, nil)
}

func TestProcessFirstSnapshotForComboIsAlwaysChangeNone(t *testing.T) {
	e, mock, pub := newTestEngine(t)

	mock.ExpectQuery("SELECT id, task_id").WillReturnRows(snapshotRow("s2", "t2"))
	mock.ExpectQuery("SELECT id, date, index").WillReturnRows(taskRow("t2", "10.0.0.1", "c1"))
	mock.ExpectQuery("SELECT id, snapshot_id, space_id").WillReturnRows(spaceStateRows("a1", store.OccupancyTrue))
	mock.ExpectQuery("SELECT s.id, s.task_id").WillReturnError(store.ErrRecordNotFound)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO change_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE snapshots SET change_count").
		WithArgs(0, "s2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := e.process(context.Background(), "s2")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Empty(t, pub.subjects) // ChangeNone records are never published
}

func TestProcessArriveTransitionIsCountedAndPublished(t *testing.T) {
	e, mock, pub := newTestEngine(t)

	mock.ExpectQuery("SELECT id, task_id").WillReturnRows(snapshotRow("s2", "t2"))
	mock.ExpectQuery("SELECT id, date, index").WillReturnRows(taskRow("t2", "10.0.0.1", "c1"))
	mock.ExpectQuery("SELECT id, snapshot_id, space_id").WillReturnRows(spaceStateRows("a1", store.OccupancyTrue))
	mock.ExpectQuery("SELECT s.id, s.task_id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "image_path", "detected_image_path", "change_count", "detected_at"}).
			AddRow("s1", "t1", "/img1.jpg", "/img1_detected.jpg", 0, time.Now()))
	mock.ExpectQuery("SELECT id, snapshot_id, space_id").WillReturnRows(spaceStateRows("a1", store.OccupancyFalse))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO change_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE snapshots SET change_count").
		WithArgs(1, "s2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := e.process(context.Background(), "s2")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, pub.subjects, 1)
	require.Equal(t, ChangeSubject, pub.subjects[0])
}

func TestClassifyTruthTable(t *testing.T) {
	cases := []struct {
		prev, curr store.Occupancy
		want       string
	}{
		{store.OccupancyFalse, store.OccupancyTrue, store.ChangeArrive},
		{store.OccupancyTrue, store.OccupancyFalse, store.ChangeLeave},
		{store.OccupancyTrue, store.OccupancyTrue, store.ChangeNone},
		{store.OccupancyFalse, store.OccupancyFalse, store.ChangeNone},
		{store.OccupancyUnknown, store.OccupancyTrue, store.ChangeUnknown},
		{store.OccupancyUnknown, store.OccupancyUnknown, store.ChangeNone},
		{store.OccupancyTrue, store.OccupancyUnknown, store.ChangeUnknown},
		{store.OccupancyFalse, store.OccupancyUnknown, store.ChangeUnknown},
	}
	for _, c := range cases {
		require.Equal(t, c.want, classify(c.prev, c.curr), "prev=%v curr=%v", c.prev, c.curr)
	}
}

func TestRunWithRetryAbandonsAfterExhaustingBackoff(t *testing.T) {
	e, mock, pub := newTestEngine(t)

	for i := 0; i < len(backoff)+1; i++ {
		mock.ExpectQuery("SELECT id, task_id").WillReturnError(store.ErrRecordNotFound)
	}

	done := make(chan struct{})
	go func() {
		e.runWithRetry("missing-snapshot")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("runWithRetry did not abandon in time")
	}
	require.Empty(t, pub.subjects)
}

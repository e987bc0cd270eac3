package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/chenqi146/parking-watch/internal/clock"
	"github.com/chenqi146/parking-watch/internal/planner"
	"github.com/chenqi146/parking-watch/internal/store"
)

type fakeSubmitter struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeSubmitter) Submit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fakeSubmitter) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func newTestScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock, *fakeSubmitter) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := clock.New("Asia/Shanghai")
	require.NoError(t, err)

	s := store.New(db)
	sub := &fakeSubmitter{}
	return New(s, planner.New(s, c), c, sub), mock, sub
}

func TestTickSkipsRuleNotMatchingCurrentWallMinute(t *testing.T) {
	s, mock, sub := newTestScheduler(t)

	mock.ExpectQuery("SELECT id, use_today").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "use_today", "custom_date", "base_rtsp", "channel", "interval_minutes", "trigger_time",
			"is_enabled", "execution_count", "last_executed_at", "last_execution_status", "last_execution_error",
		}).AddRow("r1", true, nil, "rtsp://u:p@10.0.0.1:554", "c1", 10, "00:00", true, 0, nil, store.AutoRuleStatusNone, nil))

	s.tick()

	require.NoError(t, mock.ExpectationsWereMet())
	require.Empty(t, sub.submitted())
}

func TestSeenEntryForCurrentWallMinuteMarksRuleAsFired(t *testing.T) {
	s, _, sub := newTestScheduler(t)
	now := s.clock.Now()
	minute := s.clock.WallMinute(now)

	s.seen["r1"] = minute

	s.mu.Lock()
	already := s.seen["r1"] == minute
	s.mu.Unlock()

	require.True(t, already)
	require.Empty(t, sub.submitted())
}

func TestRerunTaskSubmitsOnSuccessfulRearm(t *testing.T) {
	s, mock, sub := newTestScheduler(t)

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(store.TaskPending, "t1", store.TaskPlaying).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RerunTask(context.Background(), "t1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Equal(t, []string{"t1"}, sub.submitted())
}

func TestRerunTaskSkipsSubmitWhenTaskIsPlaying(t *testing.T) {
	s, mock, sub := newTestScheduler(t)

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(store.TaskPending, "t1", store.TaskPlaying).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RerunTask(context.Background(), "t1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Empty(t, sub.submitted())
}

func TestRerunMatchingSubmitsEveryRearmedID(t *testing.T) {
	s, mock, sub := newTestScheduler(t)

	mock.ExpectQuery("UPDATE tasks SET status").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t1").AddRow("t2"))

	n, err := s.RerunMatching(context.Background(), "2025-12-19", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.ElementsMatch(t, []string{"t1", "t2"}, sub.submitted())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFireRuleOnlySubmitsPendingTasks(t *testing.T) {
	s, mock, sub := newTestScheduler(t)

	customDate := "2025-12-19"
	rule := &store.AutoRule{
		ID:              "r1",
		UseToday:        false,
		CustomDate:      &customDate,
		BaseRTSP:        "rtsp://u:p@10.0.0.1:554",
		Channel:         "c1",
		IntervalMinutes: 1440,
	}

	mock.ExpectExec("UPDATE auto_rules SET last_execution_status=").
		WithArgs(store.AutoRuleStatusRunning, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("INSERT INTO task_configs").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "date", "rtsp_base", "channel", "interval_minutes", "day_start_ts", "day_end_ts", "operation_time",
		}).AddRow("tc1", "2025-12-19", "rtsp://u:p@10.0.0.1:554", "c1", 1440, 1766080800, 1766167199, time.Now()))
	mock.ExpectQuery("INSERT INTO tasks").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t1"))

	mock.ExpectQuery("SELECT id, date, index").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "date", "index", "start_ts", "end_ts", "rtsp_url", "ip", "channel", "status", "screenshot_path", "error", "operation_time",
		}).
			AddRow("t1", "2025-12-19", 0, 1766080800, 1766167199, "rtsp://...", "10.0.0.1", "c1", store.TaskPending, nil, nil, time.Now()).
			AddRow("t2", "2025-12-19", 1, 1766080800, 1766167199, "rtsp://...", "10.0.0.1", "c1", store.TaskScreenshotTaken, nil, nil, time.Now()).
			AddRow("t3", "2025-12-19", 2, 1766080800, 1766167199, "rtsp://...", "10.0.0.1", "c1", store.TaskFailed, nil, nil, time.Now()))

	mock.ExpectExec("UPDATE auto_rules").WillReturnResult(sqlmock.NewResult(0, 1))

	s.fireRule(context.Background(), rule, s.clock.Now())

	require.Equal(t, []string{"t1"}, sub.submitted())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTickClearsDedupMapOnNewWallDay(t *testing.T) {
	s, mock, _ := newTestScheduler(t)
	s.day = "2000-01-01" // force a stale day so tick() resets seen
	s.seen["stale"] = "2000-01-01 00:00"

	mock.ExpectQuery("SELECT id, use_today").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "use_today", "custom_date", "base_rtsp", "channel", "interval_minutes", "trigger_time",
			"is_enabled", "execution_count", "last_executed_at", "last_execution_status", "last_execution_error",
		}))

	s.tick()

	require.NoError(t, mock.ExpectationsWereMet())
	_, stillThere := s.seen["stale"]
	require.False(t, stillThere)
	require.Equal(t, s.clock.Today(), s.day)
}

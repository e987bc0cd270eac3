package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type TaskModel struct{ DB DBTX }

// Insert is an "insert or ignore" on the (date, index, rtsp_url) unique
// key: used by the planner so concurrent plan() callers converge without
// duplicating rows (spec.md §4.1). Returns true if this call created the
// row, false if it already existed.
func (m TaskModel) Insert(ctx context.Context, t *Task) (created bool, err error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	row := m.DB.QueryRowContext(ctx, `
		INSERT INTO tasks (id, date, index, start_ts, end_ts, rtsp_url, ip, channel, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (date, index, rtsp_url) DO NOTHING
		RETURNING id`,
		t.ID, t.Date, t.Index, t.StartTS, t.EndTS, t.RTSPURL, t.IP, t.Channel, TaskPending)
	var returnedID string
	err = row.Scan(&returnedID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m TaskModel) GetByID(ctx context.Context, id string) (*Task, error) {
	query := `
		SELECT id, date, index, start_ts, end_ts, rtsp_url, ip, channel, status, screenshot_path, error, operation_time
		FROM tasks WHERE id=$1`
	return m.scanOne(ctx, query, id)
}

func (m TaskModel) scanOne(ctx context.Context, query string, args ...any) (*Task, error) {
	var t Task
	var screenshot, errStr sql.NullString
	err := m.DB.QueryRowContext(ctx, query, args...).Scan(
		&t.ID, &t.Date, &t.Index, &t.StartTS, &t.EndTS, &t.RTSPURL, &t.IP, &t.Channel, &t.Status,
		&screenshot, &errStr, &t.OperationTime,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if screenshot.Valid {
		t.ScreenshotPath = &screenshot.String
	}
	if errStr.Valid {
		t.Error = &errStr.String
	}
	return &t, nil
}

// ClaimPlaying performs the conditional `pending/failed/screenshot_taken →
// playing` transition: the WHERE clause is the single-writer discipline
// spec.md §4.2/§9 requires instead of in-memory locking. Returns false if
// another worker already owns the task (RowsAffected()==0, spec.md's
// Conflict outcome — silently skipped, not an error).
func (m TaskModel) ClaimPlaying(ctx context.Context, id string) (bool, error) {
	res, err := m.DB.ExecContext(ctx, `
		UPDATE tasks SET status=$1, operation_time=(NOW() AT TIME ZONE 'UTC')
		WHERE id=$2 AND status IN ($3,$4,$5)`,
		TaskPlaying, id, TaskPending, TaskFailed, TaskScreenshotTaken)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed transitions a task to failed with the given error string,
// regardless of current status (used by the engine for every failed
// capture; the stale-playing reaper uses SweepStalePlaying instead).
func (m TaskModel) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := m.DB.ExecContext(ctx, `
		UPDATE tasks SET status=$1, error=$2, operation_time=(NOW() AT TIME ZONE 'UTC')
		WHERE id=$3`, TaskFailed, errMsg, id)
	return err
}

// CompleteTx transitions a task to screenshot_taken with screenshot_path
// set, inside an existing transaction, alongside the Snapshot/SpaceState
// writes (spec.md §4.2 step 5's single-transaction requirement).
func (m TaskModel) CompleteTx(ctx context.Context, db DBTX, id, screenshotPath string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE tasks SET status=$1, screenshot_path=$2, error=NULL, operation_time=(NOW() AT TIME ZONE 'UTC')
		WHERE id=$3`, TaskScreenshotTaken, screenshotPath, id)
	return err
}

// Rearm resets a task to pending unless it is currently playing (spec.md
// §4.5 rerun semantics).
func (m TaskModel) Rearm(ctx context.Context, id string) (bool, error) {
	res, err := m.DB.ExecContext(ctx, `
		UPDATE tasks SET status=$1, error=NULL, operation_time=(NOW() AT TIME ZONE 'UTC')
		WHERE id=$2 AND status != $3`, TaskPending, id, TaskPlaying)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RearmMatching resets to pending all non-playing tasks matching date and
// optional ip/channel, returning the affected ids.
func (m TaskModel) RearmMatching(ctx context.Context, date string, ip, channel *string) ([]string, error) {
	where := "WHERE date=$1 AND status != $2"
	args := []any{date, TaskPlaying}
	next := 3
	if ip != nil {
		where += fmt.Sprintf(" AND ip=$%d", next)
		args = append(args, *ip)
		next++
	}
	if channel != nil {
		where += fmt.Sprintf(" AND channel ILIKE $%d", next)
		args = append(args, *channel)
		next++
	}
	rows, err := m.DB.QueryContext(ctx, fmt.Sprintf(`
		UPDATE tasks SET status=$%d, error=NULL, operation_time=(NOW() AT TIME ZONE 'UTC')
		%s
		RETURNING id`, next, where), append(args, TaskPending)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DueForCombo lists pending|failed|screenshot_taken tasks for a combo,
// used by the scheduler's explicit run-now and auto-rule tick to find
// work to submit.
func (m TaskModel) DueForCombo(ctx context.Context, ip, channel string) ([]*Task, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, date, index, start_ts, end_ts, rtsp_url, ip, channel, status, screenshot_path, error, operation_time
		FROM tasks
		WHERE ip=$1 AND channel ILIKE $2 AND status IN ($3,$4,$5)
		ORDER BY start_ts ASC`, ip, channel, TaskPending, TaskFailed, TaskScreenshotTaken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// SweepStalePlaying returns ids of tasks stuck in playing past
// "multiplier x task_duration + extraSeconds" (spec.md §4.2's "6 x
// task_duration + 60s" reaper threshold), computed per-row from each
// task's own start_ts/end_ts rather than one flat deadline for every task.
func (m TaskModel) SweepStalePlaying(ctx context.Context, multiplier, extraSeconds int64) ([]string, error) {
	rows, err := m.DB.QueryContext(ctx, `
		UPDATE tasks SET status=$1, error='deadline', operation_time=(NOW() AT TIME ZONE 'UTC')
		WHERE status=$2
			AND EXTRACT(EPOCH FROM (NOW() AT TIME ZONE 'UTC' - operation_time))
				> ($3 * (end_ts - start_ts + 1) + $4)
		RETURNING id`, TaskFailed, TaskPlaying, multiplier, extraSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List supports the query facade's paged/filtered reads over tasks.
type TaskFilter struct {
	Date        *string
	IP          *string
	Channel     *string
	StatusIn    []string
	StartTSFrom *int64
	StartTSTo   *int64
}

func (m TaskModel) List(ctx context.Context, f TaskFilter, limit, offset int) ([]*Task, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	next := 1
	if f.Date != nil {
		where += fmt.Sprintf(" AND date=$%d", next)
		args = append(args, *f.Date)
		next++
	}
	if f.IP != nil {
		where += fmt.Sprintf(" AND ip=$%d", next)
		args = append(args, *f.IP)
		next++
	}
	if f.Channel != nil {
		where += fmt.Sprintf(" AND channel ILIKE $%d", next)
		args = append(args, *f.Channel)
		next++
	}
	if len(f.StatusIn) > 0 {
		where += fmt.Sprintf(" AND status = ANY($%d)", next)
		args = append(args, pqStringArray(f.StatusIn))
		next++
	}
	if f.StartTSFrom != nil {
		where += fmt.Sprintf(" AND start_ts >= $%d", next)
		args = append(args, *f.StartTSFrom)
		next++
	}
	if f.StartTSTo != nil {
		where += fmt.Sprintf(" AND start_ts <= $%d", next)
		args = append(args, *f.StartTSTo)
		next++
	}

	var total int
	if err := m.DB.QueryRowContext(ctx, "SELECT count(*) FROM tasks "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, date, index, start_ts, end_ts, rtsp_url, ip, channel, status, screenshot_path, error, operation_time
		FROM tasks %s ORDER BY start_ts ASC LIMIT $%d OFFSET $%d`, where, next, next+1)
	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := scanTasks(rows)
	return out, total, err
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var t Task
		var screenshot, errStr sql.NullString
		if err := rows.Scan(&t.ID, &t.Date, &t.Index, &t.StartTS, &t.EndTS, &t.RTSPURL, &t.IP, &t.Channel, &t.Status,
			&screenshot, &errStr, &t.OperationTime); err != nil {
			return nil, err
		}
		if screenshot.Valid {
			t.ScreenshotPath = &screenshot.String
		}
		if errStr.Valid {
			t.Error = &errStr.String
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

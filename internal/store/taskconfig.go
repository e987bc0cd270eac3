package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type TaskConfigModel struct{ DB DBTX }

// Upsert inserts the TaskConfig identified by (date, rtsp_base, channel,
// interval_minutes) or returns the existing row untouched — the unique
// constraint in db/migrations enforces this at the storage layer, not just
// in application code (spec.md §6).
func (m TaskConfigModel) Upsert(ctx context.Context, tc *TaskConfig) (*TaskConfig, error) {
	if tc.ID == "" {
		tc.ID = uuid.New().String()
	}
	query := `
		INSERT INTO task_configs (id, date, rtsp_base, channel, interval_minutes, day_start_ts, day_end_ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (date, rtsp_base, channel, interval_minutes) DO NOTHING
		RETURNING id, date, rtsp_base, channel, interval_minutes, day_start_ts, day_end_ts, operation_time`
	var out TaskConfig
	err := m.DB.QueryRowContext(ctx, query,
		tc.ID, tc.Date, tc.RTSPBase, tc.Channel, tc.IntervalMinutes, tc.DayStartTS, tc.DayEndTS,
	).Scan(&out.ID, &out.Date, &out.RTSPBase, &out.Channel, &out.IntervalMinutes, &out.DayStartTS, &out.DayEndTS, &out.OperationTime)
	if err == sql.ErrNoRows {
		// Conflict hit DO NOTHING: fetch the existing row.
		return m.GetByKey(ctx, tc.Date, tc.RTSPBase, tc.Channel, tc.IntervalMinutes)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m TaskConfigModel) GetByKey(ctx context.Context, date, rtspBase, channel string, interval int) (*TaskConfig, error) {
	query := `
		SELECT id, date, rtsp_base, channel, interval_minutes, day_start_ts, day_end_ts, operation_time
		FROM task_configs WHERE date=$1 AND rtsp_base=$2 AND channel=$3 AND interval_minutes=$4`
	var out TaskConfig
	err := m.DB.QueryRowContext(ctx, query, date, rtspBase, channel, interval).Scan(
		&out.ID, &out.Date, &out.RTSPBase, &out.Channel, &out.IntervalMinutes, &out.DayStartTS, &out.DayEndTS, &out.OperationTime,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TaskConfigFilter supports the query facade's paged/filtered reads over
// task configs, mirroring TaskFilter's dynamic WHERE builder.
type TaskConfigFilter struct {
	Date    *string
	IP      *string
	Channel *string
}

func (m TaskConfigModel) List(ctx context.Context, f TaskConfigFilter, limit, offset int) ([]*TaskConfig, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	next := 1
	if f.Date != nil {
		where += fmt.Sprintf(" AND date=$%d", next)
		args = append(args, *f.Date)
		next++
	}
	if f.IP != nil {
		where += fmt.Sprintf(" AND rtsp_base ILIKE $%d", next)
		args = append(args, "%"+*f.IP+"%")
		next++
	}
	if f.Channel != nil {
		where += fmt.Sprintf(" AND channel ILIKE $%d", next)
		args = append(args, *f.Channel)
		next++
	}

	var total int
	if err := m.DB.QueryRowContext(ctx, "SELECT count(*) FROM task_configs "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, date, rtsp_base, channel, interval_minutes, day_start_ts, day_end_ts, operation_time
		FROM task_configs %s ORDER BY date DESC, operation_time DESC LIMIT $%d OFFSET $%d`, where, next, next+1)
	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*TaskConfig
	for rows.Next() {
		var tc TaskConfig
		if err := rows.Scan(&tc.ID, &tc.Date, &tc.RTSPBase, &tc.Channel, &tc.IntervalMinutes, &tc.DayStartTS, &tc.DayEndTS, &tc.OperationTime); err != nil {
			return nil, 0, err
		}
		out = append(out, &tc)
	}
	return out, total, rows.Err()
}

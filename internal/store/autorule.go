package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type AutoRuleModel struct{ DB DBTX }

func (m AutoRuleModel) Create(ctx context.Context, r *AutoRule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := m.DB.ExecContext(ctx, `
		INSERT INTO auto_rules
			(id, use_today, custom_date, base_rtsp, channel, interval_minutes, trigger_time, is_enabled, last_execution_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.UseToday, r.CustomDate, r.BaseRTSP, r.Channel, r.IntervalMinutes, r.TriggerTime, r.IsEnabled, AutoRuleStatusNone)
	return err
}

func (m AutoRuleModel) ListEnabled(ctx context.Context) ([]*AutoRule, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, use_today, custom_date, base_rtsp, channel, interval_minutes, trigger_time,
			is_enabled, execution_count, last_executed_at, last_execution_status, last_execution_error
		FROM auto_rules WHERE is_enabled = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAutoRules(rows)
}

func scanAutoRules(rows *sql.Rows) ([]*AutoRule, error) {
	var out []*AutoRule
	for rows.Next() {
		var r AutoRule
		var customDate, lastErr sql.NullString
		var lastExecAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.UseToday, &customDate, &r.BaseRTSP, &r.Channel, &r.IntervalMinutes,
			&r.TriggerTime, &r.IsEnabled, &r.ExecutionCount, &lastExecAt, &r.LastExecutionStatus, &lastErr); err != nil {
			return nil, err
		}
		if customDate.Valid {
			r.CustomDate = &customDate.String
		}
		if lastErr.Valid {
			r.LastExecutionError = &lastErr.String
		}
		if lastExecAt.Valid {
			r.LastExecutedAt = &lastExecAt.Time
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// MarkRunning flips last_execution_status to running before materializing
// and submitting tasks.
func (m AutoRuleModel) MarkRunning(ctx context.Context, id string) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE auto_rules SET last_execution_status=$1 WHERE id=$2`, AutoRuleStatusRunning, id)
	return err
}

// MarkExecuted records the outcome of a tick, increments execution_count,
// and stamps last_executed_at (spec.md §4.5).
func (m AutoRuleModel) MarkExecuted(ctx context.Context, id string, ok bool, execErr string) error {
	status := AutoRuleStatusSuccess
	var errArg any
	if !ok {
		status = AutoRuleStatusFailed
		errArg = execErr
	}
	_, err := m.DB.ExecContext(ctx, `
		UPDATE auto_rules
		SET last_execution_status=$1, last_execution_error=$2,
			last_executed_at=(NOW() AT TIME ZONE 'UTC'), execution_count=execution_count+1
		WHERE id=$3`, status, errArg, id)
	return err
}

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type ChangeRecordModel struct{ DB DBTX }

// InsertManyTx writes the ChangeRecords for one Snapshot inside the change
// engine's transaction (spec.md §4.4: Snapshot.change_count update + N
// ChangeRecord inserts as a single transaction).
func (m ChangeRecordModel) InsertManyTx(ctx context.Context, db DBTX, records []*ChangeRecord) error {
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO change_records
				(id, current_snapshot_id, previous_snapshot_id, space_id, prev_occupied, curr_occupied, change_type, detection_confidence, detected_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			r.ID, r.CurrentSnapshotID, r.PreviousSnapshotID, r.SpaceID,
			r.PrevOccupied, r.CurrOccupied, r.ChangeType, r.DetectionConfidence, r.DetectedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

type ChangeFilter struct {
	IP           *string
	Channel      *string
	ChangeType   *string
	DetectedFrom *int64
	DetectedTo   *int64
}

func (m ChangeRecordModel) List(ctx context.Context, f ChangeFilter, limit, offset int) ([]*ChangeRecord, int, error) {
	where := `
		FROM change_records cr
		JOIN snapshots s ON s.id = cr.current_snapshot_id
		JOIN tasks t ON t.id = s.task_id
		WHERE 1=1`
	args := []any{}
	next := 1
	if f.IP != nil {
		where += fmt.Sprintf(" AND t.ip=$%d", next)
		args = append(args, *f.IP)
		next++
	}
	if f.Channel != nil {
		where += fmt.Sprintf(" AND t.channel ILIKE $%d", next)
		args = append(args, *f.Channel)
		next++
	}
	if f.ChangeType != nil {
		where += fmt.Sprintf(" AND cr.change_type=$%d", next)
		args = append(args, *f.ChangeType)
		next++
	}
	if f.DetectedFrom != nil {
		where += fmt.Sprintf(" AND EXTRACT(EPOCH FROM cr.detected_at)>=$%d", next)
		args = append(args, *f.DetectedFrom)
		next++
	}
	if f.DetectedTo != nil {
		where += fmt.Sprintf(" AND EXTRACT(EPOCH FROM cr.detected_at)<=$%d", next)
		args = append(args, *f.DetectedTo)
		next++
	}

	var total int
	if err := m.DB.QueryRowContext(ctx, "SELECT count(*) "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT cr.id, cr.current_snapshot_id, cr.previous_snapshot_id, cr.space_id,
		cr.prev_occupied, cr.curr_occupied, cr.change_type, cr.detection_confidence, cr.detected_at
		%s ORDER BY cr.detected_at DESC LIMIT $%d OFFSET $%d`, where, next, next+1)
	args = append(args, limit, offset)

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ChangeRecord
	for rows.Next() {
		var r ChangeRecord
		if err := rows.Scan(&r.ID, &r.CurrentSnapshotID, &r.PreviousSnapshotID, &r.SpaceID,
			&r.PrevOccupied, &r.CurrOccupied, &r.ChangeType, &r.DetectionConfidence, &r.DetectedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &r)
	}
	return out, total, rows.Err()
}

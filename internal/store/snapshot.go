package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type SnapshotModel struct{ DB DBTX }

// CreateTx inserts the Snapshot and its SpaceStates through db, the
// caller's transaction; the caller completes the owning Task in the same
// transaction (spec.md §4.2 step 5). An empty snap.ID is given a new uuid.
func (m SnapshotModel) CreateTx(ctx context.Context, db DBTX, snap *Snapshot, states []*SpaceState) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO snapshots (id, task_id, image_path, detected_image_path, change_count, detected_at)
		VALUES ($1,$2,$3,$4,0,(NOW() AT TIME ZONE 'UTC'))
		RETURNING detected_at`,
		snap.ID, snap.TaskID, snap.ImagePath, snap.DetectedImagePath,
	).Scan(&snap.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for _, st := range states {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		st.SnapshotID = snap.ID
		_, err := db.ExecContext(ctx, `
			INSERT INTO space_states (id, snapshot_id, space_id, occupied, confidence)
			VALUES ($1,$2,$3,$4,$5)`,
			st.ID, st.SnapshotID, st.SpaceID, st.Occupied, st.Confidence)
		if err != nil {
			return fmt.Errorf("insert space_state: %w", err)
		}
	}
	return nil
}

func (m SnapshotModel) GetByID(ctx context.Context, id string) (*Snapshot, error) {
	var s Snapshot
	err := m.DB.QueryRowContext(ctx, `
		SELECT id, task_id, image_path, detected_image_path, change_count, detected_at
		FROM snapshots WHERE id=$1`, id).Scan(
		&s.ID, &s.TaskID, &s.ImagePath, &s.DetectedImagePath, &s.ChangeCount, &s.DetectedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PreviousForCombo returns the most recently detected Snapshot for the
// given (ip, channel) combo other than excludeID, ties on detected_at
// broken by the larger snapshot id being "later" (spec.md §4.4).
func (m SnapshotModel) PreviousForCombo(ctx context.Context, ip, channel, excludeID string) (*Snapshot, error) {
	var s Snapshot
	err := m.DB.QueryRowContext(ctx, `
		SELECT s.id, s.task_id, s.image_path, s.detected_image_path, s.change_count, s.detected_at
		FROM snapshots s
		JOIN tasks t ON t.id = s.task_id
		WHERE t.ip=$1 AND t.channel ILIKE $2 AND s.id != $3
		ORDER BY s.detected_at DESC, s.id DESC
		LIMIT 1`, ip, channel, excludeID).Scan(
		&s.ID, &s.TaskID, &s.ImagePath, &s.DetectedImagePath, &s.ChangeCount, &s.DetectedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m SnapshotModel) SpaceStates(ctx context.Context, snapshotID string) ([]*SpaceState, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, snapshot_id, space_id, occupied, confidence
		FROM space_states WHERE snapshot_id=$1 ORDER BY space_id`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SpaceState
	for rows.Next() {
		var st SpaceState
		if err := rows.Scan(&st.ID, &st.SnapshotID, &st.SpaceID, &st.Occupied, &st.Confidence); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// SetChangeCountTx updates the denormalized change_count inside the change
// engine's transaction.
func (m SnapshotModel) SetChangeCountTx(ctx context.Context, db DBTX, snapshotID string, count int) error {
	_, err := db.ExecContext(ctx, `UPDATE snapshots SET change_count=$1 WHERE id=$2`, count, snapshotID)
	return err
}

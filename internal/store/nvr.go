package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type NvrConfigModel struct{ DB DBTX }

func (m NvrConfigModel) Create(ctx context.Context, n *NvrConfig) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	query := `
		INSERT INTO nvr_configs
			(id, site_name, host, port, username, password, ext_db_host, ext_db_port, ext_db_user, ext_db_password, ext_db_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query,
		n.ID, n.SiteName, n.Host, n.Port, n.User, n.Password,
		n.ExtDBHost, n.ExtDBPort, n.ExtDBUser, n.ExtDBPassword, n.ExtDBName,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
}

func (m NvrConfigModel) GetByID(ctx context.Context, id string) (*NvrConfig, error) {
	query := `
		SELECT id, site_name, host, port, username, password,
			COALESCE(ext_db_host,''), COALESCE(ext_db_port,0), COALESCE(ext_db_user,''),
			COALESCE(ext_db_password,''), COALESCE(ext_db_name,''), created_at, updated_at
		FROM nvr_configs WHERE id = $1`
	var n NvrConfig
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.SiteName, &n.Host, &n.Port, &n.User, &n.Password,
		&n.ExtDBHost, &n.ExtDBPort, &n.ExtDBUser, &n.ExtDBPassword, &n.ExtDBName,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (m NvrConfigModel) List(ctx context.Context) ([]*NvrConfig, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, site_name, host, port, username, password,
			COALESCE(ext_db_host,''), COALESCE(ext_db_port,0), COALESCE(ext_db_user,''),
			COALESCE(ext_db_password,''), COALESCE(ext_db_name,''), created_at, updated_at
		FROM nvr_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NvrConfig
	for rows.Next() {
		var n NvrConfig
		if err := rows.Scan(
			&n.ID, &n.SiteName, &n.Host, &n.Port, &n.User, &n.Password,
			&n.ExtDBHost, &n.ExtDBPort, &n.ExtDBUser, &n.ExtDBPassword, &n.ExtDBName,
			&n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// Delete cascade-deletes an NvrConfig's ChannelConfigs and their
// ParkingSpaces (FK ON DELETE CASCADE in the migration).
func (m NvrConfigModel) Delete(ctx context.Context, id string) error {
	_, err := m.DB.ExecContext(ctx, `DELETE FROM nvr_configs WHERE id = $1`, id)
	return err
}

type ChannelConfigModel struct{ DB DBTX }

func (m ChannelConfigModel) Create(ctx context.Context, c *ChannelConfig) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	query := `
		INSERT INTO channel_configs (id, nvr_config_id, channel_code, ip, display_name, vendor_sn, track_space)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query,
		c.ID, c.NvrConfigID, c.ChannelCode, c.IP, c.DisplayName, c.VendorSN, c.TrackSpace,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (m ChannelConfigModel) GetByNVRAndCode(ctx context.Context, nvrConfigID, channelCode string) (*ChannelConfig, error) {
	query := `
		SELECT id, nvr_config_id, channel_code, ip, display_name, vendor_sn, track_space, created_at, updated_at
		FROM channel_configs WHERE nvr_config_id = $1 AND channel_code ILIKE $2`
	var c ChannelConfig
	err := m.DB.QueryRowContext(ctx, query, nvrConfigID, channelCode).Scan(
		&c.ID, &c.NvrConfigID, &c.ChannelCode, &c.IP, &c.DisplayName, &c.VendorSN, &c.TrackSpace,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m ChannelConfigModel) ListByIP(ctx context.Context, ip, channelCode string) ([]*ChannelConfig, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, nvr_config_id, channel_code, ip, display_name, vendor_sn, track_space, created_at, updated_at
		FROM channel_configs WHERE ip = $1 AND channel_code ILIKE $2`, ip, channelCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ChannelConfig
	for rows.Next() {
		var c ChannelConfig
		if err := rows.Scan(&c.ID, &c.NvrConfigID, &c.ChannelCode, &c.IP, &c.DisplayName, &c.VendorSN, &c.TrackSpace,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

type ParkingSpaceModel struct{ DB DBTX }

func (m ParkingSpaceModel) Create(ctx context.Context, p *ParkingSpace) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.X1 < 0 || p.X1 >= p.X2 || p.Y1 < 0 || p.Y1 >= p.Y2 {
		return fmt.Errorf("%w: bbox must satisfy 0<=x1<x2, 0<=y1<y2", ErrInvalidInput)
	}
	_, err := m.DB.ExecContext(ctx, `
		INSERT INTO parking_spaces (id, channel_config_id, space_id, space_name, x1, y1, x2, y2)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.ChannelConfigID, p.SpaceID, p.SpaceName, p.X1, p.Y1, p.X2, p.Y2)
	return err
}

func (m ParkingSpaceModel) ListByChannel(ctx context.Context, channelConfigID string) ([]*ParkingSpace, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT id, channel_config_id, space_id, space_name, x1, y1, x2, y2
		FROM parking_spaces WHERE channel_config_id = $1 ORDER BY space_id`, channelConfigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ParkingSpace
	for rows.Next() {
		var p ParkingSpace
		if err := rows.Scan(&p.ID, &p.ChannelConfigID, &p.SpaceID, &p.SpaceName, &p.X1, &p.Y1, &p.X2, &p.Y2); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListByIPChannel resolves the ParkingSpaces for a combo (ip, channel) via
// the owning ChannelConfig, the hot path consulted by the engine on every
// capture (spec.md §3 Ownership).
func (m ParkingSpaceModel) ListByIPChannel(ctx context.Context, ip, channel string) ([]*ParkingSpace, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT ps.id, ps.channel_config_id, ps.space_id, ps.space_name, ps.x1, ps.y1, ps.x2, ps.y2
		FROM parking_spaces ps
		JOIN channel_configs cc ON cc.id = ps.channel_config_id
		WHERE cc.ip = $1 AND cc.channel_code ILIKE $2
		ORDER BY ps.space_id`, ip, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ParkingSpace
	for rows.Next() {
		var p ParkingSpace
		if err := rows.Scan(&p.ID, &p.ChannelConfigID, &p.SpaceID, &p.SpaceName, &p.X1, &p.Y1, &p.X2, &p.Y2); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, letting repository methods
// run inside or outside a transaction transparently.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store bundles the repository models over a shared *sql.DB.
type Store struct {
	DB *sql.DB

	NVRs          NvrConfigModel
	Channels      ChannelConfigModel
	Spaces        ParkingSpaceModel
	TaskConfigs   TaskConfigModel
	Tasks         TaskModel
	Snapshots     SnapshotModel
	Changes       ChangeRecordModel
	AutoRules     AutoRuleModel
}

// Open connects to Postgres at dsn and wires every repository model over
// the shared connection pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wires repository models over an already-open *sql.DB (used by tests
// with sqlmock).
func New(db *sql.DB) *Store {
	return &Store{
		DB:          db,
		NVRs:        NvrConfigModel{DB: db},
		Channels:    ChannelConfigModel{DB: db},
		Spaces:      ParkingSpaceModel{DB: db},
		TaskConfigs: TaskConfigModel{DB: db},
		Tasks:       TaskModel{DB: db},
		Snapshots:   SnapshotModel{DB: db},
		Changes:     ChangeRecordModel{DB: db},
		AutoRules:   AutoRuleModel{DB: db},
	}
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after rollback).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

package store_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenqi146/parking-watch/internal/store"
)

func TestClaimPlaying_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(store.TaskPlaying, "task-1", store.TaskPending, store.TaskFailed, store.TaskScreenshotTaken).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := s.Tasks.ClaimPlaying(context.Background(), "task-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPlaying_Conflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)

	mock.ExpectExec("UPDATE tasks SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := s.Tasks.ClaimPlaying(context.Background(), "task-1")
	require.NoError(t, err)
	assert.False(t, claimed, "zero rows affected means another worker owns the task")
}

func TestInsert_UpsertIgnoresDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)

	mock.ExpectQuery("INSERT INTO tasks").
		WillReturnError(nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	created, err := s.Tasks.Insert(context.Background(), &store.Task{
		Date: "2025-12-19", Index: 0, StartTS: 1, EndTS: 2, RTSPURL: "rtsp://x", IP: "10.0.0.1", Channel: "c1",
	})
	require.NoError(t, err)
	assert.False(t, created, "ON CONFLICT DO NOTHING with no returned row means the task already existed")
}

func TestRearm_RefusesPlaying(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)

	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 0))

	rearmed, err := s.Tasks.Rearm(context.Background(), "task-playing")
	require.NoError(t, err)
	assert.False(t, rearmed)
}

package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "checkpoints.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CommitAndLoad(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	cp, err := s.Load(ctx, "job-a")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.Commit(ctx, sampleCheckpoint("job-a", 10)))
	want := sampleCheckpoint("job-a", 20)
	require.NoError(t, s.Commit(ctx, want))

	got, err := s.Load(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	history, err := s.History(ctx, "job-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(10), history[0].Offset)
	assert.Equal(t, int64(20), history[1].Offset)
}

func TestSQLiteStore_List(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, sampleCheckpoint("job-old", 10)))
	require.NoError(t, s.Commit(ctx, sampleCheckpoint("job-new", 30)))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "job-new", list[0].JobID)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, sampleCheckpoint("job-a", 10)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx, "job-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.Offset)
}

func TestSQLiteStore_CommitRollsBackOnHistoryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLiteStore(db, testLogger())
	cp := sampleCheckpoint("job-a", 10)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs(cp.JobID, cp.Offset, cp.ChunkIndex, sqlmock.AnyArg(), cp.ConfigHash, string(cp.Status),
			cp.SinkSize, cp.LedgerSize, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO checkpoint_history`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.Commit(context.Background(), cp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint history")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CommitFailsOnTxCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLiteStore(db, testLogger())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO checkpoints`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO checkpoint_history`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err = s.Commit(context.Background(), sampleCheckpoint("job-a", 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestSQLiteStore_LoadCorruptStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLiteStore(db, testLogger())

	rows := sqlmock.NewRows([]string{"job_id", "record_offset", "chunk_index", "stats", "config_hash", "status",
		"sink_size", "ledger_size", "created_at", "updated_at"}).
		AddRow("job-a", 10, 0, "{broken", "abc", "running", 0, 0, "2026-03-01T12:00:00Z", "2026-03-01T12:00:00Z")
	mock.ExpectQuery(`SELECT .* FROM checkpoints WHERE job_id = \?`).WithArgs("job-a").WillReturnRows(rows)

	_, err = s.Load(context.Background(), "job-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCheckpointCorrupt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

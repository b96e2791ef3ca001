package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	job_id        TEXT PRIMARY KEY,
	record_offset INTEGER NOT NULL,
	chunk_index   INTEGER NOT NULL,
	stats         TEXT NOT NULL,
	config_hash   TEXT NOT NULL,
	status        TEXT NOT NULL,
	sink_size     INTEGER NOT NULL DEFAULT 0,
	ledger_size   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoint_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT NOT NULL,
	record_offset INTEGER NOT NULL,
	chunk_index   INTEGER NOT NULL,
	stats         TEXT NOT NULL,
	config_hash   TEXT NOT NULL,
	status        TEXT NOT NULL,
	sink_size     INTEGER NOT NULL DEFAULT 0,
	ledger_size   INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoint_history_job ON checkpoint_history(job_id, id);
`

const checkpointColumns = `job_id, record_offset, chunk_index, stats, config_hash, status, sink_size, ledger_size, created_at, updated_at`

const upsertCheckpointSQL = `INSERT INTO checkpoints (` + checkpointColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		record_offset = excluded.record_offset,
		chunk_index = excluded.chunk_index,
		stats = excluded.stats,
		config_hash = excluded.config_hash,
		status = excluded.status,
		sink_size = excluded.sink_size,
		ledger_size = excluded.ledger_size,
		updated_at = excluded.updated_at`

const insertHistorySQL = `INSERT INTO checkpoint_history (` + checkpointColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteStore keeps checkpoints in a SQLite database. The live row and its
// history entry are written in one transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) a WAL-mode database at path
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint database")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}

	s := NewSQLiteStore(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already opened database. Call Migrate before use
// unless the schema already exists.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger.With("component", "checkpoint")}
}

// Migrate creates the checkpoint tables
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return errors.Wrap(err, "failed to create checkpoint schema")
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, jobID string) (*models.Checkpoint, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE job_id = ?`, jobID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load checkpoint for %s", jobID)
	}
	return cp, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, cp *models.Checkpoint) (err error) {
	if err := validateJobID(cp.JobID); err != nil {
		return err
	}
	stats, err := json.Marshal(cp.Stats)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint stats")
	}
	args := []any{
		cp.JobID, cp.Offset, cp.ChunkIndex, string(stats), cp.ConfigHash, string(cp.Status),
		cp.SinkSize, cp.LedgerSize, formatTime(cp.CreatedAt), formatTime(cp.UpdatedAt),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin checkpoint transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("Checkpoint rollback failed", "job_id", cp.JobID, "error", rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, upsertCheckpointSQL, args...); err != nil {
		return errors.Wrap(err, "failed to upsert checkpoint")
	}
	if _, err = tx.ExecContext(ctx, insertHistorySQL, args...); err != nil {
		return errors.Wrap(err, "failed to insert checkpoint history")
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit checkpoint transaction")
	}

	s.logger.Debug("Checkpoint saved",
		"job_id", cp.JobID,
		"offset", cp.Offset,
		"chunk", cp.ChunkIndex,
		"status", cp.Status)
	return nil
}

// List returns every job's checkpoint, most recently updated first
func (s *SQLiteStore) List(ctx context.Context) ([]*models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list checkpoints")
	}
	return collect(rows)
}

// History returns every committed checkpoint for jobID, oldest first
func (s *SQLiteStore) History(ctx context.Context, jobID string) ([]*models.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoint_history WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query checkpoint history")
	}
	return collect(rows)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*models.Checkpoint, error) {
	var (
		cp                   models.Checkpoint
		stats, status        string
		createdAt, updatedAt string
	)
	if err := row.Scan(&cp.JobID, &cp.Offset, &cp.ChunkIndex, &stats, &cp.ConfigHash, &status,
		&cp.SinkSize, &cp.LedgerSize, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stats), &cp.Stats); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to parse checkpoint stats"), ErrCheckpointCorrupt)
	}
	cp.Status = models.JobState(status)

	var err error
	if cp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cp.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cp, nil
}

func collect(rows *sql.Rows) ([]*models.Checkpoint, error) {
	defer rows.Close()
	var out []*models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate checkpoints")
	}
	return out, nil
}

// timeLayout is fixed width so timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Mark(errors.Wrapf(err, "invalid timestamp %q", s), ErrCheckpointCorrupt)
	}
	return t, nil
}

package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

const (
	CheckpointFilename = "checkpoint.json"
	HistoryFilename    = "checkpoint.history.jsonl"
)

// FileStore keeps <dir>/<jobID>/checkpoint.json. Commits go through a
// fsynced temp file that is renamed over the live one.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}
	return &FileStore{dir: dir, logger: logger.With("component", "checkpoint")}, nil
}

func (s *FileStore) jobDir(jobID string) string {
	return filepath.Join(s.dir, jobID)
}

// Load reads the live checkpoint. When it is missing or unparsable the
// temp file of an interrupted commit is used if it parses.
func (s *FileStore) Load(_ context.Context, jobID string) (*models.Checkpoint, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	livePath := filepath.Join(s.jobDir(jobID), CheckpointFilename)
	tmpPath := livePath + ".tmp"

	live, liveErr := readCheckpoint(livePath)
	if liveErr == nil {
		return live, nil
	}

	tmp, tmpErr := readCheckpoint(tmpPath)
	if tmpErr == nil {
		s.logger.Warn("Recovered checkpoint from temp file",
			"job_id", jobID,
			"live_error", liveErr)
		return tmp, nil
	}

	if errors.Is(liveErr, fs.ErrNotExist) {
		// A tmp file alone that does not parse is a torn first commit
		return nil, nil
	}
	return nil, liveErr
}

// Commit atomically replaces the live checkpoint, moving the previous one
// to the history file.
func (s *FileStore) Commit(_ context.Context, cp *models.Checkpoint) error {
	if err := validateJobID(cp.JobID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.jobDir(cp.JobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create job directory %s", dir)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal checkpoint")
	}

	livePath := filepath.Join(dir, CheckpointFilename)
	tmpPath := livePath + ".tmp"

	if prev, err := os.ReadFile(livePath); err == nil {
		if err := appendHistory(filepath.Join(dir, HistoryFilename), prev); err != nil {
			s.logger.Warn("Failed to append checkpoint history", "job_id", cp.JobID, "error", err)
		}
	}

	if err := writeFileSync(tmpPath, data); err != nil {
		return errors.Wrap(err, "failed to write temp checkpoint")
	}
	if err := os.Rename(tmpPath, livePath); err != nil {
		return errors.Wrap(err, "failed to rename checkpoint")
	}
	if err := syncDir(dir); err != nil {
		return errors.Wrap(err, "failed to sync checkpoint directory")
	}

	s.logger.Debug("Checkpoint saved",
		"job_id", cp.JobID,
		"offset", cp.Offset,
		"chunk", cp.ChunkIndex,
		"status", cp.Status)
	return nil
}

// List returns the live checkpoint of every job under the store directory,
// most recently updated first. Unreadable entries are skipped.
func (s *FileStore) List(ctx context.Context) ([]*models.Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint directory %s", s.dir)
	}

	var out []*models.Checkpoint
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cp, err := s.Load(ctx, e.Name())
		if err != nil {
			s.logger.Debug("Skipping unreadable checkpoint", "job_id", e.Name(), "error", err)
			continue
		}
		if cp != nil {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// History returns every committed checkpoint for jobID, oldest first
func (s *FileStore) History(ctx context.Context, jobID string) ([]*models.Checkpoint, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}

	var out []*models.Checkpoint
	f, err := os.Open(filepath.Join(s.jobDir(jobID), HistoryFilename))
	switch {
	case err == nil:
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var cp models.Checkpoint
			if err := json.Unmarshal(scanner.Bytes(), &cp); err != nil {
				continue
			}
			out = append(out, &cp)
		}
		scanErr := scanner.Err()
		_ = f.Close()
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "failed to read checkpoint history")
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, errors.Wrap(err, "failed to open checkpoint history")
	}

	live, err := s.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		out = append(out, live)
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func readCheckpoint(path string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to parse %s", path), ErrCheckpointCorrupt)
	}
	if cp.JobID == "" {
		return nil, errors.Mark(errors.Newf("%s has no job id", path), ErrCheckpointCorrupt)
	}
	return &cp, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func appendHistory(path string, prev []byte) error {
	var line bytes.Buffer
	if err := json.Compact(&line, prev); err != nil {
		return err
	}
	line.WriteByte('\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// syncDir makes a rename durable
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
	"github.com/lamim/synthforge/pkg/models"
)

// ErrNonMonotonic is returned when a commit would move the offset backwards
var ErrNonMonotonic = errors.New("checkpoint offset would move backwards")

// Manager owns the checkpoint of one job. Commits are synchronous and
// monotonic: a committed offset never decreases.
type Manager struct {
	store      Store
	jobID      string
	configHash string
	current    *models.Checkpoint
	mu         sync.RWMutex
	now        func() time.Time
	logger     *slog.Logger
}

// NewManager creates a manager for jobID over store
func NewManager(store Store, jobID, configHash string, logger *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		jobID:      jobID,
		configHash: configHash,
		now:        time.Now,
		logger:     logger.With("component", "checkpoint", "job_id", jobID),
	}
}

// Open loads the stored checkpoint. For a fresh job it returns a new
// in-memory checkpoint at offset 0 and resumed is false.
func (m *Manager) Open(ctx context.Context) (cp *models.Checkpoint, resumed bool, err error) {
	stored, err := m.store.Load(ctx, m.jobID)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to load checkpoint")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if stored == nil {
		now := m.now().UTC()
		m.current = &models.Checkpoint{
			JobID:      m.jobID,
			ChunkIndex: -1,
			ConfigHash: m.configHash,
			Status:     models.JobStateInitializing,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return m.current.Clone(), false, nil
	}

	m.current = stored
	m.logger.Info("Checkpoint loaded",
		"offset", stored.Offset,
		"chunk", stored.ChunkIndex,
		"status", stored.Status,
		"processed", stored.Stats.Processed)
	return stored.Clone(), true, nil
}

// Commit durably records that every record before offset is done. stats
// are the cumulative job statistics at that point.
func (m *Manager) Commit(ctx context.Context, offset int64, chunkIndex int, stats models.JobStats, sinkSize, ledgerSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return errors.New("checkpoint manager not opened")
	}
	if offset < m.current.Offset {
		return errors.WithDetailf(ErrNonMonotonic, "offset %d < committed %d", offset, m.current.Offset)
	}

	next := m.current.Clone()
	next.Offset = offset
	next.ChunkIndex = chunkIndex
	next.Stats = stats
	next.SinkSize = sinkSize
	next.LedgerSize = ledgerSize
	next.ConfigHash = m.configHash
	next.UpdatedAt = m.now().UTC()
	if next.Status == models.JobStateInitializing {
		next.Status = models.JobStateRunning
	}

	if err := m.store.Commit(ctx, next); err != nil {
		return errors.Wrapf(err, "failed to commit checkpoint at offset %d", offset)
	}
	m.current = next
	return nil
}

// MarkStatus records a lifecycle state without moving the offset
func (m *Manager) MarkStatus(ctx context.Context, status models.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return errors.New("checkpoint manager not opened")
	}
	next := m.current.Clone()
	next.Status = status
	next.UpdatedAt = m.now().UTC()
	if err := m.store.Commit(ctx, next); err != nil {
		return errors.Wrapf(err, "failed to record status %s", status)
	}
	m.current = next
	return nil
}

// Current returns a copy of the last committed (or freshly opened) checkpoint
func (m *Manager) Current() *models.Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// ConfigHash is the hash of the running configuration
func (m *Manager) ConfigHash() string { return m.configHash }

// Close closes the underlying store
func (m *Manager) Close() error {
	return m.store.Close()
}

// hashedConfig lists the settings that change what a job produces
type hashedConfig struct {
	InputPath string                `json:"input_path"`
	ChunkSize int                   `json:"chunk_size"`
	Backend   string                `json:"backend"`
	Model     string                `json:"model"`
	Strategy  config.StrategyConfig `json:"strategy"`
	Quality   config.QualityConfig  `json:"quality"`
}

// ComputeConfigHash fingerprints the output-affecting part of cfg
func ComputeConfigHash(cfg *config.Config) string {
	name, bc := cfg.ActiveBackend()
	// Only plain values: Marshal cannot fail
	data, _ := json.Marshal(hashedConfig{
		InputPath: cfg.Input.Path,
		ChunkSize: cfg.Job.ChunkSize,
		Backend:   name,
		Model:     bc.ModelName,
		Strategy:  cfg.Strategy,
		Quality:   cfg.Quality,
	})
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash[:8])
}

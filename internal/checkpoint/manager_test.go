package checkpoint

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/config"
	"github.com/lamim/synthforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore rejects every commit
type failingStore struct {
	Store
}

func (failingStore) Commit(context.Context, *models.Checkpoint) error {
	return errors.New("disk full")
}

func newTestManager(t *testing.T) (*Manager, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	return NewManager(store, "job-a", "hash-1", testLogger()), store
}

func TestManager_OpenFresh(t *testing.T) {
	m, _ := newTestManager(t)

	cp, resumed, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, "job-a", cp.JobID)
	assert.Equal(t, int64(0), cp.Offset)
	assert.Equal(t, -1, cp.ChunkIndex)
	assert.Equal(t, "hash-1", cp.ConfigHash)
	assert.Equal(t, models.JobStateInitializing, cp.Status)
}

func TestManager_CommitAndResume(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	_, _, err := m.Open(ctx)
	require.NoError(t, err)

	stats := models.JobStats{Processed: 100, Accepted: 90, Failed: 10}
	require.NoError(t, m.Commit(ctx, 100, 0, stats, 4096, 512))

	cur := m.Current()
	assert.Equal(t, int64(100), cur.Offset)
	assert.Equal(t, models.JobStateRunning, cur.Status)
	assert.Equal(t, int64(4096), cur.SinkSize)

	// A second manager over the same store picks up where the first stopped
	m2 := NewManager(store, "job-a", "hash-1", testLogger())
	cp, resumed, err := m2.Open(ctx)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, int64(100), cp.Offset)
	assert.Equal(t, 0, cp.ChunkIndex)
	assert.Equal(t, stats, cp.Stats)
	assert.Equal(t, int64(512), cp.LedgerSize)
}

func TestManager_NonMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, _, err := m.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Commit(ctx, 200, 1, models.JobStats{}, 0, 0))
	err = m.Commit(ctx, 100, 0, models.JobStats{}, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonMonotonic))
	assert.Equal(t, int64(200), m.Current().Offset)

	// Same offset is allowed
	assert.NoError(t, m.Commit(ctx, 200, 1, models.JobStats{Processed: 200}, 0, 0))
}

func TestManager_CommitFailureKeepsPrevious(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, _, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, 50, 0, models.JobStats{}, 0, 0))

	m.store = failingStore{Store: store}
	err = m.Commit(ctx, 100, 1, models.JobStats{}, 0, 0)
	require.Error(t, err)
	assert.Equal(t, int64(50), m.Current().Offset)
}

func TestManager_MarkStatus(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	_, _, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, 30, 0, models.JobStats{}, 0, 0))

	require.NoError(t, m.MarkStatus(ctx, models.JobStateCancelled))

	cp, err := store.Load(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCancelled, cp.Status)
	assert.Equal(t, int64(30), cp.Offset)
}

func TestManager_CommitBeforeOpen(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.Commit(context.Background(), 10, 0, models.JobStats{}, 0, 0))
	assert.Error(t, m.MarkStatus(context.Background(), models.JobStateFailed))
}

func TestValidate(t *testing.T) {
	cp := &models.Checkpoint{JobID: "j", ConfigHash: "h1", Status: models.JobStateCancelled}

	assert.NoError(t, Validate(cp, "h1", false))
	assert.NoError(t, Validate(nil, "h1", false))

	err := Validate(cp, "h2", false)
	assert.True(t, errors.Is(err, ErrConfigMismatch))
	assert.NoError(t, Validate(cp, "h2", true), "force skips the hash check")

	cp.Status = models.JobStateCompleted
	assert.True(t, errors.Is(Validate(cp, "h1", true), ErrAlreadyComplete))
}

func TestProgressPercentage(t *testing.T) {
	cp := &models.Checkpoint{Offset: 25}
	assert.InDelta(t, 25.0, ProgressPercentage(cp, 100), 1e-9)
	assert.InDelta(t, 0.0, ProgressPercentage(cp, 0), 1e-9)
	assert.InDelta(t, 0.0, ProgressPercentage(nil, 100), 1e-9)
	assert.InDelta(t, 100.0, ProgressPercentage(&models.Checkpoint{Offset: 120}, 100), 1e-9)
}

func TestComputeConfigHash(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Job:      config.JobConfig{ChunkSize: 500, Backend: "main"},
			Input:    config.InputConfig{Path: "data.jsonl"},
			Strategy: config.StrategyConfig{Kind: config.StrategyExpand, Count: 5},
			Backends: map[string]config.BackendConfig{"main": {ModelName: "qwen"}},
		}
	}

	h := ComputeConfigHash(base())
	assert.Len(t, h, 16)
	assert.Equal(t, h, ComputeConfigHash(base()))

	changed := base()
	changed.Strategy.Count = 6
	assert.NotEqual(t, h, ComputeConfigHash(changed))

	changed = base()
	changed.Backends["main"] = config.BackendConfig{ModelName: "llama"}
	assert.NotEqual(t, h, ComputeConfigHash(changed))

	// Concurrency does not change outputs
	changed = base()
	changed.Job.Concurrency = 32
	assert.Equal(t, h, ComputeConfigHash(changed))
}

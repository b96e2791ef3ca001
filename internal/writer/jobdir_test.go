package writer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobTime = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func TestNewJobDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "output")
	dir, err := NewJobDir(out, jobTime, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "job_2026-03-01T12-30-45", dir.Name())
	assert.Equal(t, out, dir.OutputDir())
	assert.DirExists(t, dir.Path())
	assert.Equal(t, filepath.Join(out, dir.Name(), "dataset.jsonl"), dir.DatasetPath())
	assert.Equal(t, filepath.Join(out, dir.Name(), "failures.jsonl"), dir.FailuresPath())
	assert.Equal(t, filepath.Join(out, dir.Name(), "session.log"), dir.LogPath())
	assert.NoError(t, ValidateJobDirName(out, dir.Name()))

	_, err = NewJobDir(out, jobTime, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestOpenJobDir(t *testing.T) {
	out := t.TempDir()
	created, err := NewJobDir(out, jobTime, testLogger())
	require.NoError(t, err)

	opened, err := OpenJobDir(out, created.Name(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, created.Path(), opened.Path())

	_, err = OpenJobDir(out, "job_2020-01-01T00-00-00", testLogger())
	assert.True(t, errors.Is(err, ErrJobDirNotFound))

	_, err = OpenJobDir(out, "../escape", testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
}

func TestSplitJobPath(t *testing.T) {
	out, name := SplitJobPath("output/job_2026-03-01T12-30-45/")
	assert.Equal(t, "output", out)
	assert.Equal(t, "job_2026-03-01T12-30-45", name)
}

func TestBackupConfig(t *testing.T) {
	out := t.TempDir()
	dir, err := NewJobDir(out, jobTime, testLogger())
	require.NoError(t, err)

	cfgPath := filepath.Join(out, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[job]\nname = \"x\"\n"), 0644))
	require.NoError(t, dir.BackupConfig(cfgPath))

	data, err := os.ReadFile(dir.ConfigBackupPath())
	require.NoError(t, err)
	assert.Equal(t, "[job]\nname = \"x\"\n", string(data))

	assert.Error(t, dir.BackupConfig(filepath.Join(out, "missing.toml")))
}

func TestSetupLogger(t *testing.T) {
	dir, err := NewJobDir(t.TempDir(), jobTime, testLogger())
	require.NoError(t, err)

	logger, file, err := SetupLogger(dir, 0)
	require.NoError(t, err)
	logger.Info("chunk committed", "chunk", 3)
	logger.Debug("not written")
	require.NoError(t, file.Close())

	data, err := os.ReadFile(dir.LogPath())
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "chunk committed", entry["msg"])
	assert.Equal(t, dir.Name(), entry["job_id"])
	assert.EqualValues(t, 3, entry["chunk"])
}

func TestComputeQualityMetrics(t *testing.T) {
	m := ComputeQualityMetrics(models.JobStats{
		Processed:       10,
		Accepted:        6,
		Flagged:         2,
		Failed:          2,
		OutputsWritten:  30,
		OutputsFlagged:  3,
		OutputsRejected: 10,
	})
	assert.EqualValues(t, 10, m.TotalInputItems)
	assert.EqualValues(t, 40, m.TotalGeneratedItems)
	assert.EqualValues(t, 30, m.QualityPassedItems)
	assert.EqualValues(t, 10, m.QualityFailedItems)
	assert.EqualValues(t, 3, m.FlaggedItems)
	assert.InDelta(t, 75.0, m.QualityPassRate, 1e-9)
	assert.InDelta(t, 80.0, m.GenerationSuccessRate, 1e-9)
	assert.InDelta(t, 4.0, m.AverageGenerationsPerInput, 1e-9)

	assert.Zero(t, ComputeQualityMetrics(models.JobStats{}))
}

func TestWriteReadReport(t *testing.T) {
	dir, err := NewJobDir(t.TempDir(), jobTime, testLogger())
	require.NoError(t, err)

	r, err := dir.ReadReport()
	require.NoError(t, err)
	assert.Nil(t, r)

	require.NoError(t, dir.WriteReport(&Report{
		State:         models.JobStateCancelled,
		Strategy:      "expand",
		Backend:       "local",
		Model:         "qwen",
		Statistics:    models.JobStats{Processed: 4, Accepted: 2, OutputsWritten: 6, OutputsRejected: 2},
		GeneratedTime: jobTime,
		IsPartial:     true,
	}))

	r, err = dir.ReadReport()
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, dir.Name(), r.JobID)
	assert.True(t, r.IsPartial)
	assert.Equal(t, models.JobStateCancelled, r.State)
	assert.InDelta(t, 75.0, r.QualityMetrics.QualityPassRate, 1e-9)
	assert.InDelta(t, 50.0, r.QualityMetrics.GenerationSuccessRate, 1e-9)
	assert.NoFileExists(t, dir.ReportPath()+".tmp")
}

func TestWriteMeta(t *testing.T) {
	dir, err := NewJobDir(t.TempDir(), jobTime, testLogger())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dir.DatasetPath(), []byte("{}\n{}\n"), 0644))

	require.NoError(t, dir.WriteMeta(&Meta{
		RunID:           "run-1",
		Strategy:        "qa",
		State:           models.JobStateCompleted,
		StartTime:       jobTime,
		EndTime:         jobTime.Add(time.Minute),
		InputItemCount:  2,
		OutputItemCount: 2,
	}))

	data, err := os.ReadFile(dir.MetaPath())
	require.NoError(t, err)
	var m Meta
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, dir.Name(), m.JobID)
	assert.Equal(t, "synthesis", m.TaskType)
	assert.Equal(t, dir.DatasetPath(), m.OutputPath)
	assert.EqualValues(t, 6, m.FileSize)
}

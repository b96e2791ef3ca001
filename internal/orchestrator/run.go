package orchestrator

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/checkpoint"
	"github.com/lamim/synthforge/internal/input"
	"github.com/lamim/synthforge/internal/writer"
	"github.com/lamim/synthforge/pkg/models"
)

// Run drives the job to a terminal state. It returns nil when the input
// was fully processed, an ErrJobCancelled error when ctx was cancelled and
// an ErrJobFailed error otherwise. The last committed checkpoint is kept in
// every case.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.ran {
		j.mu.Unlock()
		return errors.New("job already ran")
	}
	j.ran = true
	j.mu.Unlock()

	j.startedAt = j.deps.Clock()

	total, err := input.CountRecords(j.spec.InputPath, j.spec.InputFormat)
	if err != nil {
		j.logger.Warn("Failed to count input records, progress total unknown", "error", err)
		total = 0
	}
	if err := j.deps.Tracker.Register(j.spec.ID, total); err != nil {
		return err
	}

	reader, err := j.initialize(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return j.finish(models.JobStateCancelled, nil)
		}
		return j.finish(models.JobStateFailed, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			j.logger.Warn("Failed to close input", "error", err)
		}
	}()

	if err := j.deps.Tracker.SetState(j.spec.ID, models.JobStateRunning); err != nil {
		return j.finish(models.JobStateFailed, err)
	}

	j.logger.Info("Starting generation",
		"strategy", j.spec.Strategy.Kind,
		"backend", j.spec.Backend,
		"chunk_size", j.spec.ChunkSize,
		"concurrency", j.EffectiveConcurrency(),
		"offset", reader.Offset(),
		"total", total)

	for {
		if err := j.waitIfPaused(ctx); err != nil {
			if ctx.Err() != nil {
				return j.finish(models.JobStateCancelled, nil)
			}
			return j.finish(models.JobStateFailed, err)
		}
		if ctx.Err() != nil {
			return j.finish(models.JobStateCancelled, nil)
		}

		chunk, err := reader.NextChunk(j.spec.ChunkSize)
		if err == io.EOF {
			return j.finish(models.JobStateCompleted, nil)
		}
		if err != nil {
			return j.finish(models.JobStateFailed, errors.Wrap(err, "failed to read input"))
		}

		outcome, err := j.processChunk(ctx, chunk)
		if err != nil {
			return j.finish(models.JobStateFailed, err)
		}
		if !outcome.complete {
			j.logger.Info("Discarding partial chunk after cancellation",
				"chunk", chunk.Index,
				"start_offset", chunk.StartOffset)
			return j.finish(models.JobStateCancelled, nil)
		}

		// A finished chunk is committed even when ctx was cancelled meanwhile
		if err := j.commitChunk(context.WithoutCancel(ctx), chunk, outcome); err != nil {
			return j.finish(models.JobStateFailed, err)
		}
	}
}

// initialize loads the checkpoint, lines the output files up with it and
// opens the input at the committed offset
func (j *Job) initialize(ctx context.Context) (input.Reader, error) {
	cp, resumed, err := j.deps.Checkpoints.Open(ctx)
	if err != nil {
		return nil, err
	}
	if resumed {
		if err := checkpoint.Validate(cp, j.deps.Checkpoints.ConfigHash(), j.spec.Force); err != nil {
			return nil, err
		}
	}
	j.owned = true
	j.stats = cp.Stats
	j.chunkIndex = cp.ChunkIndex + 1

	// Anything past the committed sizes was written by a run that died
	// before its checkpoint commit
	if err := j.deps.Sink.TruncateTo(cp.SinkSize); err != nil {
		return nil, errors.Wrap(err, "failed to align dataset with checkpoint")
	}
	if err := j.deps.Ledger.TruncateTo(cp.LedgerSize); err != nil {
		return nil, errors.Wrap(err, "failed to align failure ledger with checkpoint")
	}

	reader, err := input.Open(j.spec.InputPath, j.spec.InputFormat)
	if err != nil {
		return nil, err
	}
	if err := reader.Seek(cp.Offset); err != nil {
		_ = reader.Close()
		return nil, errors.Wrapf(err, "failed to seek input to offset %d", cp.Offset)
	}

	if err := j.backend.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			_ = reader.Close()
			return nil, ctx.Err()
		}
		if backend.Classify(err) != backend.ClassUnavailable {
			_ = reader.Close()
			return nil, errors.Wrap(err, "backend check failed")
		}
		// Requests will wait for the breaker and give up on their own
		j.logger.Warn("Backend unreachable at start", "error", err)
	}

	if err := j.deps.Checkpoints.MarkStatus(ctx, models.JobStateRunning); err != nil {
		_ = reader.Close()
		return nil, err
	}
	if err := j.deps.Tracker.Advance(j.spec.ID, j.stats, cp.Offset); err != nil {
		_ = reader.Close()
		return nil, err
	}

	if resumed {
		j.logger.Info("Resuming from checkpoint",
			"offset", cp.Offset,
			"chunk", cp.ChunkIndex,
			"processed", cp.Stats.Processed)
	}
	return reader, nil
}

// waitIfPaused blocks at a chunk boundary while a pause is requested
func (j *Job) waitIfPaused(ctx context.Context) error {
	ch := j.pauseChannel()
	if ch == nil {
		return nil
	}

	if err := j.deps.Tracker.SetState(j.spec.ID, models.JobStatePaused); err != nil {
		return err
	}
	if err := j.deps.Checkpoints.MarkStatus(ctx, models.JobStatePaused); err != nil {
		j.logger.Warn("Failed to record pause in checkpoint", "error", err)
	}
	j.logger.Info("Job paused", "offset", j.deps.Checkpoints.Current().Offset)

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := j.deps.Checkpoints.MarkStatus(ctx, models.JobStateRunning); err != nil {
		j.logger.Warn("Failed to record resume in checkpoint", "error", err)
	}
	j.logger.Info("Job resumed")
	return j.deps.Tracker.SetState(j.spec.ID, models.JobStateRunning)
}

// finish records the terminal state, writes the reports and converts the
// outcome into Run's return value
func (j *Job) finish(state models.JobState, cause error) error {
	ctx := context.Background()
	defer j.deps.Metrics.ForgetJob(j.spec.ID)

	if state == models.JobStateFailed {
		if cause == nil {
			cause = errors.New("unknown failure")
		}
		if err := j.deps.Tracker.Fail(j.spec.ID, cause); err != nil {
			j.logger.Warn("Failed to record failure in tracker", "error", err)
		}
		j.logger.Error("Job failed", "error", cause, "offset", j.committedOffset())
	} else if err := j.deps.Tracker.SetState(j.spec.ID, state); err != nil {
		j.logger.Warn("Failed to record state in tracker", "state", state, "error", err)
	}

	// A checkpoint this run refused to resume is left untouched
	if j.owned {
		if err := j.deps.Checkpoints.MarkStatus(ctx, state); err != nil {
			j.logger.Warn("Failed to record final state in checkpoint", "state", state, "error", err)
		}
	}
	j.writeReports(state)

	switch state {
	case models.JobStateCompleted:
		j.logger.Info("Job completed",
			"processed", j.stats.Processed,
			"accepted", j.stats.Accepted,
			"flagged", j.stats.Flagged,
			"failed", j.stats.Failed,
			"outputs", j.stats.OutputsWritten)
		return nil
	case models.JobStateCancelled:
		j.logger.Info("Job cancelled", "offset", j.committedOffset())
		return errors.WithDetailf(ErrJobCancelled, "resume from offset %d", j.committedOffset())
	}
	return errors.Mark(cause, ErrJobFailed)
}

func (j *Job) committedOffset() int64 {
	if cp := j.deps.Checkpoints.Current(); cp != nil {
		return cp.Offset
	}
	return 0
}

func (j *Job) writeReports(state models.JobState) {
	if j.deps.JobDir == nil || !j.owned {
		return
	}
	report := &writer.Report{
		JobID:         j.spec.ID,
		State:         state,
		Strategy:      j.spec.Strategy.Kind,
		Backend:       j.spec.Backend,
		Model:         j.spec.Model,
		Statistics:    j.stats,
		Parameters:    j.spec.Strategy,
		GeneratedTime: j.deps.Clock().UTC(),
		IsPartial:     state != models.JobStateCompleted,
	}
	if err := j.deps.JobDir.WriteReport(report); err != nil {
		j.logger.Error("Failed to write quality report", "error", err)
	}

	meta := &writer.Meta{
		JobID:           j.spec.ID,
		RunID:           j.runID,
		Strategy:        j.spec.Strategy.Kind,
		Backend:         j.spec.Backend,
		Model:           j.spec.Model,
		State:           state,
		StartTime:       j.startedAt.UTC(),
		EndTime:         j.deps.Clock().UTC(),
		InputItemCount:  j.stats.Processed,
		OutputItemCount: j.stats.OutputsWritten,
	}
	if err := j.deps.JobDir.WriteMeta(meta); err != nil {
		j.logger.Error("Failed to write metadata", "error", err)
	}
}

package orchestrator

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/strategy"
	"github.com/lamim/synthforge/pkg/models"
)

// Ledger stages
const (
	StageInput    = "input"
	StageBackend  = "backend"
	StageStrategy = "strategy"
	StageQuality  = "quality"
	StageRecord   = "record"
)

// commitChunk evaluates the chunk's results in input order, appends them to
// the sink and ledger, then makes the chunk durable: sink flush, ledger
// flush, checkpoint commit. Tracker and metrics only see committed chunks.
func (j *Job) commitChunk(ctx context.Context, chunk *models.Chunk, outcome *chunkOutcome) error {
	start := time.Now()

	byRecord := make(map[int][]taskResult, len(chunk.Records))
	for _, res := range outcome.results {
		byRecord[res.task.record] = append(byRecord[res.task.record], res)
	}

	var delta models.JobStats
	for _, bad := range chunk.Malformed {
		delta.Processed++
		delta.Failed++
		if err := j.appendFailure(models.FailureEntry{
			Offset:  bad.Offset,
			Stage:   StageInput,
			Reason:  models.ReasonMalformedInput,
			Message: bad.Err.Error(),
		}); err != nil {
			return err
		}
	}

	for i, rec := range chunk.Records {
		accepted, flagged, err := j.settleRecord(rec, outcome.renderFails[i], byRecord[i], &delta)
		if err != nil {
			return err
		}
		delta.Processed++
		switch {
		case accepted > 0:
			delta.Accepted++
			continue
		case flagged > 0:
			delta.Flagged++
			continue
		}
		delta.Failed++
		if err := j.appendFailure(models.FailureEntry{
			SourceID: rec.ID,
			Offset:   rec.Offset,
			Stage:    StageRecord,
			Reason:   models.ReasonNoAcceptedOutputs,
		}); err != nil {
			return err
		}
	}

	if err := j.deps.Sink.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush dataset")
	}
	if err := j.deps.Ledger.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush failure ledger")
	}

	next := j.stats
	next.Add(delta)
	if err := j.deps.Checkpoints.Commit(ctx, chunk.EndOffset, j.chunkIndex, next,
		j.deps.Sink.Size(), j.deps.Ledger.Size()); err != nil {
		return err
	}
	j.stats = next
	j.chunkIndex++

	elapsed := time.Since(start)
	j.deps.Metrics.RecordChunkCommit(elapsed)
	if _, err := j.deps.Metrics.SampleMemory(); err != nil {
		j.logger.Debug("Failed to sample memory", "error", err)
	}
	if err := j.deps.Tracker.Advance(j.spec.ID, delta, chunk.EndOffset); err != nil {
		j.logger.Warn("Failed to update tracker", "error", err)
	}

	j.logger.Info("Chunk committed",
		"chunk", chunk.Index,
		"offset", chunk.EndOffset,
		"records", delta.Processed,
		"accepted", delta.Accepted,
		"flagged", delta.Flagged,
		"failed", delta.Failed,
		"outputs", delta.OutputsWritten,
		"rejected", delta.OutputsRejected,
		"commit_ms", elapsed.Milliseconds())
	return nil
}

// settleRecord turns the results of one record into sink lines and ledger
// entries and returns how many accepted and flagged outputs were written
func (j *Job) settleRecord(rec models.Record, renderErr error, results []taskResult, delta *models.JobStats) (accepted, flagged int, err error) {
	if renderErr != nil {
		return 0, 0, j.appendFailure(models.FailureEntry{
			SourceID: rec.ID,
			Offset:   rec.Offset,
			Stage:    StageStrategy,
			Reason:   strategy.ReasonOf(renderErr),
			Message:  renderErr.Error(),
		})
	}

	sort.Slice(results, func(a, b int) bool { return results[a].task.variant < results[b].task.variant })

	for _, res := range results {
		delta.Requests += int64(res.attempts)
		delta.Retries += int64(res.retries)

		if res.resp == nil {
			class := backend.Classify(res.err)
			reason := models.ReasonBackendRejected
			switch class {
			case backend.ClassTransient:
				reason = models.ReasonTransientExhausted
			case backend.ClassUnavailable:
				reason = models.ReasonBackendUnavailable
			}
			if err := j.appendFailure(models.FailureEntry{
				SourceID: rec.ID,
				Offset:   rec.Offset,
				Variant:  res.task.variant,
				Stage:    StageBackend,
				Reason:   reason,
				Class:    string(class),
				Attempts: res.attempts,
				Message:  errorMessage(res.err),
			}); err != nil {
				return accepted, flagged, err
			}
			continue
		}

		delta.PromptTokens += int64(res.resp.Usage.PromptTokens)
		delta.CompletionTokens += int64(res.resp.Usage.CompletionTokens)

		outs, err := j.deps.Strategy.Materialize(rec, res.task.variant, res.resp)
		if err != nil {
			if err := j.appendFailure(models.FailureEntry{
				SourceID: rec.ID,
				Offset:   rec.Offset,
				Variant:  res.task.variant,
				Stage:    StageStrategy,
				Reason:   strategy.ReasonOf(err),
				Attempts: res.attempts,
				Message:  err.Error(),
			}); err != nil {
				return accepted, flagged, err
			}
			continue
		}

		for _, out := range outs {
			out.Backend = j.spec.Backend
			result := j.deps.Evaluator.Evaluate(out, rec)
			out.Verdict = result.Verdict
			out.Reasons = result.Reasons
			j.deps.Metrics.RecordVerdict(out.Strategy, string(result.Verdict))

			if result.Verdict == models.VerdictReject {
				delta.OutputsRejected++
				if err := j.appendFailure(models.FailureEntry{
					SourceID: rec.ID,
					Offset:   rec.Offset,
					Variant:  out.Variant,
					Stage:    StageQuality,
					Reason:   result.Reasons[0],
					Attempts: res.attempts,
					Message:  strings.Join(result.Reasons, ","),
				}); err != nil {
					return accepted, flagged, err
				}
				continue
			}

			if err := j.deps.Sink.Append(out); err != nil {
				return accepted, flagged, errors.Wrap(err, "failed to append output")
			}
			delta.OutputsWritten++
			if result.Verdict == models.VerdictFlag {
				delta.OutputsFlagged++
				flagged++
			} else {
				accepted++
			}
		}
	}
	return accepted, flagged, nil
}

func (j *Job) appendFailure(entry models.FailureEntry) error {
	entry.JobID = j.spec.ID
	entry.Timestamp = j.deps.Clock().UTC()
	if err := j.deps.Ledger.Append(entry); err != nil {
		return errors.Wrap(err, "failed to append failure entry")
	}
	j.deps.Metrics.RecordFailure(entry.Reason)
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

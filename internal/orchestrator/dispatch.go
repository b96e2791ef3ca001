package orchestrator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/pkg/models"
	"golang.org/x/sync/errgroup"
)

// task is one backend request for one variant of one record
type task struct {
	record  int // index into chunk.Records
	variant int
	req     backend.Request
}

// taskResult is what a worker hands back to the orchestrator goroutine
type taskResult struct {
	task      task
	resp      *backend.Response
	err       error
	attempts  int
	retries   int
	abandoned bool // stopped by cancellation before an answer
}

// chunkOutcome holds every result of a chunk
type chunkOutcome struct {
	complete    bool
	results     []taskResult
	renderFails map[int]error // record index -> render error
}

// processChunk renders every record of chunk and runs the requests through
// a pool bounded by the effective concurrency. The returned error is
// job-fatal; an incomplete outcome means ctx was cancelled.
func (j *Job) processChunk(ctx context.Context, chunk *models.Chunk) (*chunkOutcome, error) {
	outcome := &chunkOutcome{renderFails: make(map[int]error)}

	var tasks []task
	for i, rec := range chunk.Records {
		reqs, err := j.deps.Strategy.Render(rec)
		if err != nil {
			outcome.renderFails[i] = err
			continue
		}
		for v, req := range reqs {
			if req.Model == "" {
				req.Model = j.spec.Model
			}
			tasks = append(tasks, task{record: i, variant: v + 1, req: req})
		}
	}

	// In-flight requests outlive ctx by the grace timeout; no new request
	// starts once ctx is done
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopGrace := context.AfterFunc(ctx, func() {
		time.AfterFunc(j.spec.GraceTimeout, cancelWork)
	})
	defer stopGrace()

	eg, egCtx := errgroup.WithContext(workCtx)
	eg.SetLimit(j.EffectiveConcurrency())

	stopCtx, stop := context.WithCancel(egCtx)
	defer stop()
	stopParent := context.AfterFunc(ctx, stop)
	defer stopParent()

	results := make(chan taskResult, len(tasks))
	dispatched := 0
	for _, t := range tasks {
		if stopCtx.Err() != nil {
			break
		}
		dispatched++
		eg.Go(func() error {
			res, err := j.runTask(egCtx, stopCtx, chunk.Records[t.record], t)
			results <- res
			return err
		})
	}

	err := eg.Wait()
	close(results)
	if err != nil {
		return nil, err
	}

	outcome.complete = dispatched == len(tasks)
	for res := range results {
		if res.abandoned {
			outcome.complete = false
		}
		outcome.results = append(outcome.results, res)
	}
	return outcome, nil
}

// runTask sends one request, retrying transient failures and waiting out
// unavailable backends. Only a give-up is returned as an error.
func (j *Job) runTask(work, stop context.Context, rec models.Record, t task) (taskResult, error) {
	res := taskResult{task: t}
	retrier := NewRetrier(j.spec.Retry, uint64(rec.Offset)<<8|uint64(t.variant&0xff))
	log := j.logger.With("record_id", rec.ID, "offset", rec.Offset, "variant", t.variant)

	for {
		if stop.Err() != nil {
			res.abandoned = true
			return res, nil
		}

		j.metricsInFlight(1)
		req := t.req
		resp, err := j.backend.Submit(work, &req)
		j.metricsInFlight(-1)
		res.attempts++

		if err == nil {
			res.resp = resp
			res.err = nil
			return res, nil
		}
		if work.Err() != nil {
			res.abandoned = true
			return res, nil
		}

		res.err = err
		class := backend.Classify(err)
		switch class {
		case backend.ClassUnavailable:
			// Waiting for the breaker does not use up a retry
			if err := j.waitForBackend(stop); err != nil {
				if stop.Err() != nil && !errors.Is(err, ErrBackendGaveUp) {
					res.abandoned = true
					return res, nil
				}
				return res, err
			}
			continue

		case backend.ClassTransient:
			var status int
			var f *backend.Failure
			if errors.As(err, &f) {
				status = f.StatusCode
			}
			delay, ok := retrier.Next(class, status, backend.RetryAfterOf(err))
			if !ok {
				log.Warn("Retries exhausted", "attempts", res.attempts, "error", err)
				return res, nil
			}
			res.retries++
			j.deps.Metrics.RecordRetry(j.spec.Backend, string(class))
			log.Warn("Retrying request",
				"attempt", retrier.Attempt,
				"max_retries", j.spec.Retry.MaxRetries,
				"backoff", delay,
				"status", status,
				"error", err)

			timer := time.NewTimer(delay)
			select {
			case <-stop.Done():
				timer.Stop()
				res.abandoned = true
				return res, nil
			case <-timer.C:
			}

		default:
			log.Debug("Request rejected", "error", err)
			return res, nil
		}
	}
}

// waitForBackend blocks until the breaker lets a probe through or the
// outage has lasted GiveUpAfter
func (j *Job) waitForBackend(ctx context.Context) error {
	breaker := j.backend.Breaker()
	since, ok := breaker.UnavailableSince()
	if !ok {
		return nil
	}
	deadline := since.Add(j.spec.GiveUpAfter)
	if !j.deps.Clock().Before(deadline) {
		return j.giveUp(since)
	}

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	err := breaker.WaitReady(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return j.giveUp(since)
}

func (j *Job) giveUp(since time.Time) error {
	return errors.WithDetailf(
		errors.Mark(ErrBackendGaveUp, ErrJobFailed),
		"backend %s unavailable since %s (give up after %s)",
		j.spec.Backend, since.Format(time.RFC3339), j.spec.GiveUpAfter)
}

func (j *Job) metricsInFlight(delta int64) {
	n := j.inFlight.Add(delta)
	j.deps.Metrics.SetActiveWorkers(j.spec.ID, int(n))
}

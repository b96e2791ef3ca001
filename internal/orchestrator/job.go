// Package orchestrator runs generation jobs: it streams the input in
// chunks, fans requests out to a backend, evaluates the outputs and commits
// each chunk durably before moving on.
package orchestrator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/checkpoint"
	"github.com/lamim/synthforge/internal/config"
	"github.com/lamim/synthforge/internal/metrics"
	"github.com/lamim/synthforge/internal/quality"
	"github.com/lamim/synthforge/internal/strategy"
	"github.com/lamim/synthforge/internal/tracker"
	"github.com/lamim/synthforge/internal/writer"
	"github.com/lamim/synthforge/pkg/models"
)

var (
	// ErrJobFailed marks errors that ended a job in the failed state
	ErrJobFailed = errors.New("job failed")
	// ErrJobCancelled is returned when a job stopped because its context was cancelled
	ErrJobCancelled = errors.New("job cancelled")
	// ErrBackendGaveUp is returned when a backend stayed unavailable past the give-up horizon
	ErrBackendGaveUp = errors.New("backend unavailable past give-up horizon")
)

// JobSpec is the immutable description of a job
type JobSpec struct {
	ID           string
	InputPath    string
	InputFormat  string
	Strategy     config.StrategyConfig
	Backend      string
	Model        string
	ChunkSize    int
	Concurrency  int
	Retry        RetryPolicy
	GraceTimeout time.Duration
	GiveUpAfter  time.Duration
	// Force resumes a checkpoint written under a different configuration
	Force bool
}

// SpecFromConfig builds a JobSpec for jobID from a validated configuration
func SpecFromConfig(cfg *config.Config, jobID string) JobSpec {
	name, bc := cfg.ActiveBackend()
	return JobSpec{
		ID:           jobID,
		InputPath:    cfg.Input.Path,
		InputFormat:  cfg.InputFormat(),
		Strategy:     cfg.Strategy,
		Backend:      name,
		Model:        bc.ModelName,
		ChunkSize:    cfg.Job.ChunkSize,
		Concurrency:  cfg.Job.Concurrency,
		Retry:        PolicyFromConfig(cfg.Retry),
		GraceTimeout: time.Duration(cfg.Job.GraceTimeoutSeconds) * time.Second,
		GiveUpAfter:  time.Duration(cfg.Job.GiveUpAfterSeconds) * time.Second,
	}
}

// TruncatingSink is an output sink that can drop an uncommitted tail
type TruncatingSink interface {
	writer.Sink
	TruncateTo(size int64) error
}

// FailureLedger receives failure entries with the same durability rules as
// the sink
type FailureLedger interface {
	Append(entry models.FailureEntry) error
	Flush() error
	Size() int64
	TruncateTo(size int64) error
}

// Deps are the collaborators a job needs. Metrics, Tracker, JobDir and
// Clock are optional.
type Deps struct {
	Backends    *backend.Pool
	Strategy    strategy.Strategy
	Evaluator   *quality.Evaluator
	Checkpoints *checkpoint.Manager
	Sink        TruncatingSink
	Ledger      FailureLedger
	Tracker     *tracker.Tracker
	Metrics     *metrics.Collector
	JobDir      *writer.JobDir
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Job is one run of a JobSpec. A Job is single-use: Run may be called once.
type Job struct {
	spec    JobSpec
	deps    Deps
	runID   string
	logger  *slog.Logger
	backend *backend.Guarded

	// owned by the Run goroutine
	stats      models.JobStats
	chunkIndex int
	startedAt  time.Time
	owned      bool // checkpoint loaded and accepted for this run

	mu       sync.Mutex
	resumeCh chan struct{} // non-nil while a pause is requested
	ran      bool

	inFlight atomic.Int64
}

// New validates spec and deps and creates a job
func New(deps Deps, spec JobSpec) (*Job, error) {
	switch {
	case spec.ID == "":
		return nil, errors.New("job ID is required")
	case spec.InputPath == "":
		return nil, errors.New("input path is required")
	case spec.ChunkSize < 1:
		return nil, errors.Newf("chunk size must be positive (got %d)", spec.ChunkSize)
	case deps.Backends == nil || deps.Strategy == nil || deps.Evaluator == nil:
		return nil, errors.New("backends, strategy and evaluator are required")
	case deps.Checkpoints == nil || deps.Sink == nil || deps.Ledger == nil:
		return nil, errors.New("checkpoint manager, sink and ledger are required")
	}

	g, err := deps.Backends.Get(spec.Backend)
	if err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Tracker == nil {
		deps.Tracker = tracker.New(deps.Clock)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector(deps.Logger)
	}
	if spec.Concurrency < 1 {
		spec.Concurrency = 1
	}
	if spec.GiveUpAfter <= 0 {
		spec.GiveUpAfter = 10 * time.Minute
	}
	spec.Retry = spec.Retry.withDefaults()

	runID := uuid.NewString()
	return &Job{
		spec:    spec,
		deps:    deps,
		runID:   runID,
		logger:  deps.Logger.With("component", "orchestrator", "job_id", spec.ID, "run_id", runID),
		backend: g,
	}, nil
}

// ID returns the job ID
func (j *Job) ID() string { return j.spec.ID }

// RunID identifies this run of the job; a resumed job gets a new one
func (j *Job) RunID() string { return j.runID }

// Tracker returns the tracker the job reports to
func (j *Job) Tracker() *tracker.Tracker { return j.deps.Tracker }

// Stats returns the cumulative committed statistics. Only meaningful after
// Run returned.
func (j *Job) Stats() models.JobStats { return j.stats }

// Pause stops the job at the next chunk boundary
func (j *Job) Pause() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resumeCh == nil {
		j.resumeCh = make(chan struct{})
		j.logger.Info("Pause requested")
	}
}

// Resume lets a paused job continue
func (j *Job) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resumeCh != nil {
		close(j.resumeCh)
		j.resumeCh = nil
		j.logger.Info("Resume requested")
	}
}

func (j *Job) pauseChannel() chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.resumeCh
}

// EffectiveConcurrency is the in-flight limit this job dispatches with
func (j *Job) EffectiveConcurrency() int {
	return backend.EffectiveConcurrency(j.spec.Concurrency, j.backend.Ceiling())
}

// Package tracker keeps in-memory progress snapshots for running jobs and
// fans updates out to subscribers.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

var (
	ErrJobNotFound       = errors.New("job not tracked")
	ErrJobExists         = errors.New("job already tracked")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// Snapshot is a point-in-time copy of a job's progress
type Snapshot struct {
	JobID         string          `json:"job_id"`
	State         models.JobState `json:"state"`
	Processed     int64           `json:"processed"`
	Accepted      int64           `json:"accepted"`
	Flagged       int64           `json:"flagged"`
	Failed        int64           `json:"failed"`
	TotalEstimate int64           `json:"total_estimate"`
	LastError     string          `json:"last_error,omitempty"`
	Offset        int64           `json:"offset"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Percentage is committed offsets against the input size, in [0, 100].
// Unknown totals report 0.
func (s Snapshot) Percentage() float64 {
	if s.TotalEstimate <= 0 {
		return 0
	}
	return min(float64(s.Offset)/float64(s.TotalEstimate)*100, 100)
}

var transitions = map[models.JobState][]models.JobState{
	models.JobStateInitializing: {models.JobStateRunning, models.JobStateFailed, models.JobStateCancelled},
	models.JobStateRunning:      {models.JobStatePaused, models.JobStateCompleted, models.JobStateFailed, models.JobStateCancelled},
	models.JobStatePaused:       {models.JobStateRunning, models.JobStateFailed, models.JobStateCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step
func CanTransition(from, to models.JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type entry struct {
	snap Snapshot
	subs map[int]chan Snapshot
}

// Tracker is safe for concurrent use
type Tracker struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	nextID int
	now    func() time.Time
}

// New creates an empty tracker. A nil clock means time.Now.
func New(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{jobs: make(map[string]*entry), now: clock}
}

// Register starts tracking jobID in the initializing state. total may be
// zero when the input size is unknown.
func (t *Tracker) Register(jobID string, total int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.jobs[jobID]; ok && !e.snap.State.IsTerminal() {
		return errors.WithDetailf(ErrJobExists, "job: %s", jobID)
	}
	subs := make(map[int]chan Snapshot)
	if e, ok := t.jobs[jobID]; ok {
		// A finished job run again in the same process keeps its watchers
		subs = e.subs
	}
	e := &entry{
		snap: Snapshot{
			JobID:         jobID,
			State:         models.JobStateInitializing,
			TotalEstimate: total,
			UpdatedAt:     t.now(),
		},
		subs: subs,
	}
	t.jobs[jobID] = e
	t.notify(e)
	return nil
}

// SetState moves a job to state. Setting the current state again is a no-op.
func (t *Tracker) SetState(jobID string, state models.JobState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.get(jobID)
	if err != nil {
		return err
	}
	if e.snap.State == state {
		return nil
	}
	if !CanTransition(e.snap.State, state) {
		return errors.WithDetailf(ErrInvalidTransition, "job %s: %s -> %s", jobID, e.snap.State, state)
	}
	e.snap.State = state
	e.snap.UpdatedAt = t.now()
	t.notify(e)
	return nil
}

// Advance adds delta to the job's counters and records the committed offset
func (t *Tracker) Advance(jobID string, delta models.JobStats, offset int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.get(jobID)
	if err != nil {
		return err
	}
	e.snap.Processed += delta.Processed
	e.snap.Accepted += delta.Accepted
	e.snap.Flagged += delta.Flagged
	e.snap.Failed += delta.Failed
	e.snap.Offset = offset
	e.snap.UpdatedAt = t.now()
	t.notify(e)
	return nil
}

// Fail records cause and moves the job to failed
func (t *Tracker) Fail(jobID string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.get(jobID)
	if err != nil {
		return err
	}
	if e.snap.State != models.JobStateFailed && !CanTransition(e.snap.State, models.JobStateFailed) {
		return errors.WithDetailf(ErrInvalidTransition, "job %s: %s -> %s", jobID, e.snap.State, models.JobStateFailed)
	}
	if cause != nil {
		e.snap.LastError = cause.Error()
	}
	e.snap.State = models.JobStateFailed
	e.snap.UpdatedAt = t.now()
	t.notify(e)
	return nil
}

// RecordError keeps cause as the job's last error without changing state
func (t *Tracker) RecordError(jobID string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.get(jobID)
	if err != nil || cause == nil {
		return
	}
	e.snap.LastError = cause.Error()
	e.snap.UpdatedAt = t.now()
	t.notify(e)
}

// Get returns the current snapshot for jobID
func (t *Tracker) Get(jobID string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.get(jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snap, nil
}

// List returns every tracked job ordered by job ID
func (t *Tracker) List() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, len(t.jobs))
	for _, e := range t.jobs {
		out = append(out, e.snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Subscribe returns a channel that receives a snapshot after every update
// to jobID, starting with the current one. Slow readers only see the most
// recent snapshot. cancel closes the channel.
func (t *Tracker) Subscribe(jobID string) (<-chan Snapshot, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.get(jobID)
	if err != nil {
		return nil, nil, err
	}
	id := t.nextID
	t.nextID++
	ch := make(chan Snapshot, 1)
	ch <- e.snap
	e.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(e.subs, id)
			close(ch)
		})
	}
	return ch, cancel, nil
}

// get must be called with t.mu held
func (t *Tracker) get(jobID string) (*entry, error) {
	e, ok := t.jobs[jobID]
	if !ok {
		return nil, errors.WithDetailf(ErrJobNotFound, "job: %s", jobID)
	}
	return e, nil
}

// notify must be called with t.mu held. It never blocks: a stale
// undelivered snapshot is replaced by the new one.
func (t *Tracker) notify(e *entry) {
	for _, ch := range e.subs {
		select {
		case ch <- e.snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e.snap:
		default:
		}
	}
}

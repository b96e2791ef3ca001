package models

import "time"

// Verdict is the quality classification applied to a candidate output record
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
	// VerdictFlag outputs are written to the sink but tagged for manual review
	VerdictFlag Verdict = "flag"
)

// Record is one logical input unit read from the input dataset
type Record struct {
	ID     string         `json:"id"`
	Offset int64          `json:"offset"`
	Fields map[string]any `json:"fields"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Chunk is a bounded ordered batch of records and the unit of checkpoint granularity.
// EndOffset is exclusive.
type Chunk struct {
	Index       int      `json:"index"`
	StartOffset int64    `json:"start_offset"`
	EndOffset   int64    `json:"end_offset"`
	Records     []Record `json:"-"`

	// Malformed holds offsets whose raw lines could not be parsed
	Malformed []MalformedLine `json:"-"`
}

// MalformedLine is an input line that could not be decoded into a record
type MalformedLine struct {
	Offset int64
	Err    error
}

// Len returns the number of input offsets covered by the chunk
func (c *Chunk) Len() int64 {
	return c.EndOffset - c.StartOffset
}

// Usage represents token accounting for a single backend call
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated,omitempty"`
}

// OutputRecord is a record produced by a strategy. Written once, never mutated after write.
type OutputRecord struct {
	SourceID  string         `json:"source_id"`
	Offset    int64          `json:"offset"`
	Strategy  string         `json:"strategy"`
	Variant   int            `json:"variant"`
	Fields    map[string]any `json:"fields"`
	Verdict   Verdict        `json:"verdict"`
	Reasons   []string       `json:"reasons,omitempty"`
	Backend   string         `json:"backend,omitempty"`
	Usage     *Usage         `json:"usage,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// FailureEntry is one line in the failure ledger
type FailureEntry struct {
	JobID     string    `json:"job_id"`
	SourceID  string    `json:"source_id"`
	Offset    int64     `json:"offset"`
	Variant   int       `json:"variant"`
	Stage     string    `json:"stage"` // "input", "backend", "strategy", "quality"
	Reason    string    `json:"reason"`
	Class     string    `json:"class,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Failure ledger reason codes
const (
	ReasonTransientExhausted = "backend:transient-exhausted"
	ReasonBackendRejected    = "backend:rejected"
	ReasonBackendUnavailable = "backend:unavailable"
	ReasonMalformedResponse  = "strategy:malformed-response"
	ReasonRenderFailed       = "strategy:render-failed"
	ReasonLabelOutOfSet      = "strategy:label-out-of-set"
	ReasonPairingIncomplete  = "strategy:pairing-incomplete"
	ReasonMalformedInput     = "input:malformed-line"
	ReasonNoAcceptedOutputs  = "record:no-accepted-outputs"
)

// JobState is the lifecycle state of a generation job
type JobState string

const (
	JobStateInitializing JobState = "initializing"
	JobStateRunning      JobState = "running"
	JobStatePaused       JobState = "paused"
	JobStateCompleted    JobState = "completed"
	JobStateFailed       JobState = "failed"
	JobStateCancelled    JobState = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// IsValidState returns true if the string is a known JobState
func IsValidState(s string) bool {
	switch JobState(s) {
	case JobStateInitializing, JobStateRunning, JobStatePaused,
		JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// JobStats tracks cumulative counters for a job. Processed counts input records
// whose chunk has been committed and is always Accepted + Flagged + Failed: a
// record is accepted when it wrote an accepted output, flagged when it only
// wrote flagged outputs and failed when it wrote nothing. The Outputs counters
// are per output line.
type JobStats struct {
	Processed        int64 `json:"processed"`
	Accepted         int64 `json:"accepted"`
	Flagged          int64 `json:"flagged"`
	Failed           int64 `json:"failed"`
	OutputsWritten   int64 `json:"outputs_written"`
	OutputsFlagged   int64 `json:"outputs_flagged"`
	OutputsRejected  int64 `json:"outputs_rejected"`
	Requests         int64 `json:"requests"`
	Retries          int64 `json:"retries"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Add accumulates other into s
func (s *JobStats) Add(other JobStats) {
	s.Processed += other.Processed
	s.Accepted += other.Accepted
	s.Flagged += other.Flagged
	s.Failed += other.Failed
	s.OutputsWritten += other.OutputsWritten
	s.OutputsFlagged += other.OutputsFlagged
	s.OutputsRejected += other.OutputsRejected
	s.Requests += other.Requests
	s.Retries += other.Retries
	s.PromptTokens += other.PromptTokens
	s.CompletionTokens += other.CompletionTokens
}

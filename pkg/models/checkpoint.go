package models

import "time"

// Checkpoint is the durable marker of the last fully committed chunk for a job
type Checkpoint struct {
	JobID      string    `json:"job_id"`
	Offset     int64     `json:"offset"`      // exclusive end offset of the last committed chunk
	ChunkIndex int       `json:"chunk_index"` // index of the last committed chunk, -1 before the first commit
	Stats      JobStats  `json:"stats"`
	ConfigHash string    `json:"config_hash"`
	Status     JobState  `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Byte sizes of the sink and ledger at commit time, used to drop
	// uncommitted tail lines on resume
	SinkSize   int64 `json:"sink_size"`
	LedgerSize int64 `json:"ledger_size"`
}

// Clone returns a copy safe to hand to another goroutine
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

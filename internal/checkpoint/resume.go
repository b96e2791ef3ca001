package checkpoint

import (
	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

var (
	// ErrConfigMismatch is returned when a checkpoint was written under a different configuration
	ErrConfigMismatch = errors.New("checkpoint config mismatch")
	// ErrAlreadyComplete is returned when resuming a job that finished
	ErrAlreadyComplete = errors.New("checkpoint is already complete, nothing to resume")
)

// Validate verifies that cp may be resumed under the configuration whose
// hash is configHash. force skips the hash comparison.
func Validate(cp *models.Checkpoint, configHash string, force bool) error {
	if cp == nil {
		return nil
	}
	if cp.Status == models.JobStateCompleted {
		return ErrAlreadyComplete
	}
	if !force && cp.ConfigHash != configHash {
		return errors.WithDetailf(ErrConfigMismatch,
			"checkpoint was created with a different configuration (hash: %s vs %s)", cp.ConfigHash, configHash)
	}
	return nil
}

// ProgressPercentage returns committed progress against an estimated total
func ProgressPercentage(cp *models.Checkpoint, total int64) float64 {
	if cp == nil || total <= 0 {
		return 0.0
	}
	pct := float64(cp.Offset) / float64(total) * 100.0
	return min(pct, 100.0)
}

package checkpoint

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

var (
	// ErrCheckpointCorrupt is returned when a stored checkpoint cannot be parsed
	ErrCheckpointCorrupt = errors.New("checkpoint is corrupt")
	// ErrInvalidJobID is returned for job IDs that could escape the store directory
	ErrInvalidJobID = errors.New("invalid job id")
)

// Store persists one checkpoint per job. Load returns (nil, nil) when the
// job has never committed. Commit must be atomic: after a crash Load
// returns either the previous or the new checkpoint, never a mix.
type Store interface {
	Load(ctx context.Context, jobID string) (*models.Checkpoint, error)
	Commit(ctx context.Context, cp *models.Checkpoint) error
	Close() error
}

// Inspector is implemented by stores that can enumerate what they hold
type Inspector interface {
	List(ctx context.Context) ([]*models.Checkpoint, error)
	History(ctx context.Context, jobID string) ([]*models.Checkpoint, error)
}

func validateJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." ||
		strings.ContainsAny(jobID, `/\`) || strings.Contains(jobID, "\x00") {
		return errors.WithDetailf(ErrInvalidJobID, "job id: %q", jobID)
	}
	return nil
}

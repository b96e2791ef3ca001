package writer

import (
	"log/slog"

	"github.com/lamim/synthforge/pkg/models"
)

// Ledger records records and outputs that were not accepted, one JSON
// line per failure, in failures.jsonl.
type Ledger struct {
	f *jsonlFile
}

// NewLedger opens path for appending, creating it when missing
func NewLedger(path string, logger *slog.Logger) (*Ledger, error) {
	f, err := openJSONL(path, logger)
	if err != nil {
		return nil, err
	}
	return &Ledger{f: f}, nil
}

func (l *Ledger) Append(entry models.FailureEntry) error { return l.f.append(entry) }

func (l *Ledger) Flush() error { return l.f.flush() }

func (l *Ledger) Size() int64 { return l.f.currentSize() }

func (l *Ledger) TruncateTo(size int64) error { return l.f.truncateTo(size) }

func (l *Ledger) Close() error { return l.f.close() }

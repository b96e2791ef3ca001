package writer

import (
	"log/slog"

	"github.com/lamim/synthforge/pkg/models"
)

// JSONLSink writes output records to dataset.jsonl
type JSONLSink struct {
	f      *jsonlFile
	logger *slog.Logger
}

// NewJSONLSink opens path for appending, creating it when missing
func NewJSONLSink(path string, logger *slog.Logger) (*JSONLSink, error) {
	f, err := openJSONL(path, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Opened dataset file", "path", path, "size", f.size)
	return &JSONLSink{f: f, logger: logger}, nil
}

func (s *JSONLSink) Append(rec models.OutputRecord) error { return s.f.append(rec) }

func (s *JSONLSink) Flush() error { return s.f.flush() }

func (s *JSONLSink) Size() int64 { return s.f.currentSize() }

// TruncateTo drops bytes beyond size
func (s *JSONLSink) TruncateTo(size int64) error { return s.f.truncateTo(size) }

func (s *JSONLSink) Close() error {
	if err := s.f.close(); err != nil {
		return err
	}
	s.logger.Info("Closed dataset file")
	return nil
}

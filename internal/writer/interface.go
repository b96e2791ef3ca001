package writer

import "github.com/lamim/synthforge/pkg/models"

// Sink receives output records. Appends are buffered; only records
// followed by a successful Flush are durable.
type Sink interface {
	Append(rec models.OutputRecord) error
	// Flush writes buffered records and fsyncs the file
	Flush() error
	// Size is the file size in bytes including buffered records
	Size() int64
	Close() error
}

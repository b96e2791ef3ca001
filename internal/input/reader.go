// Package input reads datasets as offset-addressable chunks of records.
// The offset of a record is its zero-based position in the input; blank
// lines and malformed entries still consume an offset.
package input

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

// Supported input formats
const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

var (
	// ErrUnsupportedFormat is returned for formats other than jsonl and json
	ErrUnsupportedFormat = errors.New("unsupported input format")
	// ErrNotObject is recorded for entries that are valid JSON but not an object
	ErrNotObject = errors.New("record is not a JSON object")
)

// Reader yields chunks of records in input order
type Reader interface {
	// Seek skips to offset. It must be called before the first NextChunk.
	Seek(offset int64) error
	// NextChunk returns up to size offsets worth of records, or io.EOF
	NextChunk(size int) (*models.Chunk, error)
	// Offset is the offset of the next unread entry
	Offset() int64
	Close() error
}

// Open opens path in the given format
func Open(path, format string) (Reader, error) {
	switch format {
	case FormatJSONL, "":
		return openJSONL(path)
	case FormatJSON:
		return openJSONArray(path)
	}
	return nil, errors.WithDetailf(ErrUnsupportedFormat, "format: %s", format)
}

// decodeRecord turns one raw entry into a record
func decodeRecord(raw []byte, offset int64) (models.Record, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		var other any
		if json.Unmarshal(raw, &other) == nil {
			return models.Record{}, ErrNotObject
		}
		return models.Record{}, errors.Wrap(err, "invalid JSON")
	}
	if fields == nil {
		return models.Record{}, ErrNotObject
	}
	return models.Record{
		ID:     recordID(fields, raw, offset),
		Offset: offset,
		Fields: fields,
	}, nil
}

// recordID prefers the record's own id field and otherwise derives a
// stable one from the offset and content.
func recordID(fields map[string]any, raw []byte, offset int64) string {
	switch v := fields["id"].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	sum := sha256.Sum256(raw)
	return "L" + strconv.FormatInt(offset, 10) + "-" + hex.EncodeToString(sum[:4])
}

// chunkBuilder accumulates entries for one chunk
type chunkBuilder struct {
	chunk *models.Chunk
}

func newChunkBuilder(start int64, size int) *chunkBuilder {
	return &chunkBuilder{chunk: &models.Chunk{
		Index:       int(start / int64(size)),
		StartOffset: start,
		EndOffset:   start,
		Records:     make([]models.Record, 0, size),
	}}
}

// add consumes one offset. A nil raw entry is a blank line.
func (b *chunkBuilder) add(raw []byte, offset int64) {
	b.chunk.EndOffset = offset + 1
	if raw == nil {
		return
	}
	rec, err := decodeRecord(raw, offset)
	if err != nil {
		b.chunk.Malformed = append(b.chunk.Malformed, models.MalformedLine{Offset: offset, Err: err})
		return
	}
	b.chunk.Records = append(b.chunk.Records, rec)
}

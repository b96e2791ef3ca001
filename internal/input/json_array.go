package input

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

// jsonArrayReader streams the elements of a top-level JSON array without
// loading the whole document.
type jsonArrayReader struct {
	file   *os.File
	dec    *json.Decoder
	offset int64
	done   bool
}

func openJSONArray(path string) (*jsonArrayReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input dataset")
	}
	dec := json.NewDecoder(bufio.NewReaderSize(file, initialLineBuffer))
	if err := expectArrayStart(dec); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &jsonArrayReader{file: file, dec: dec}, nil
}

func expectArrayStart(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "failed to read input dataset")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return errors.New("JSON input must be a top-level array of objects")
	}
	return nil
}

// next returns the raw next element or io.EOF. A syntax error inside the
// array is fatal because the decoder cannot resynchronise.
func (r *jsonArrayReader) next() (json.RawMessage, error) {
	if r.done || !r.dec.More() {
		r.done = true
		return nil, io.EOF
	}
	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		r.done = true
		return nil, errors.Wrapf(err, "failed to decode input element at offset %d", r.offset)
	}
	return raw, nil
}

func (r *jsonArrayReader) Seek(offset int64) error {
	for r.offset < offset {
		if _, err := r.next(); err != nil {
			if err == io.EOF {
				return errors.Newf("input has %d entries, cannot seek to offset %d", r.offset, offset)
			}
			return err
		}
		r.offset++
	}
	return nil
}

func (r *jsonArrayReader) NextChunk(size int) (*models.Chunk, error) {
	if size <= 0 {
		return nil, errors.Newf("chunk size must be positive (got %d)", size)
	}
	b := newChunkBuilder(r.offset, size)
	for i := 0; i < size; i++ {
		raw, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		b.add(raw, r.offset)
		r.offset++
	}
	if b.chunk.Len() == 0 {
		return nil, io.EOF
	}
	return b.chunk, nil
}

func (r *jsonArrayReader) Offset() int64 { return r.offset }

func (r *jsonArrayReader) Close() error {
	return r.file.Close()
}

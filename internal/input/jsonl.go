package input

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

const (
	initialLineBuffer = 1024 * 1024
	maxLineSize       = 16 * 1024 * 1024
)

type jsonlReader struct {
	file    *os.File
	scanner *bufio.Scanner
	offset  int64
	done    bool
}

func openJSONL(path string) (*jsonlReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input dataset")
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)
	return &jsonlReader{file: file, scanner: scanner}, nil
}

// next returns the next line, nil for a blank line, or io.EOF
func (r *jsonlReader) next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.scanner.Scan() {
		r.done = true
		if err := r.scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "failed while reading input dataset at offset %d", r.offset)
		}
		return nil, io.EOF
	}
	line := bytes.TrimSpace(r.scanner.Bytes())
	if len(line) == 0 {
		return nil, nil
	}
	// The scanner reuses its buffer
	return bytes.Clone(line), nil
}

func (r *jsonlReader) Seek(offset int64) error {
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

func (r *jsonlReader) NextChunk(size int) (*models.Chunk, error) {
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

func (r *jsonlReader) Offset() int64 { return r.offset }

func (r *jsonlReader) Close() error {
	return r.file.Close()
}

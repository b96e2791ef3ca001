package writer

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrSinkFlush marks failures to make appended lines durable
var ErrSinkFlush = errors.New("failed to flush output file")

const writeBufferSize = 256 * 1024

// jsonlFile is an append-only JSON Lines file with explicit durability
type jsonlFile struct {
	path   string
	file   *os.File
	buf    *bufio.Writer
	size   int64
	mu     sync.Mutex
	logger *slog.Logger
}

func openJSONL(path string, logger *slog.Logger) (*jsonlFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	return &jsonlFile{
		path:   path,
		file:   file,
		buf:    bufio.NewWriterSize(file, writeBufferSize),
		size:   info.Size(),
		logger: logger,
	}, nil
}

func (f *jsonlFile) append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal record")
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.buf.Write(data)
	f.size += int64(n)
	if err != nil {
		return errors.Wrap(err, "failed to write record")
	}
	return nil
}

func (f *jsonlFile) flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.buf.Flush(); err != nil {
		return errors.Mark(errors.Wrapf(err, "flush %s", f.path), ErrSinkFlush)
	}
	if err := f.file.Sync(); err != nil {
		return errors.Mark(errors.Wrapf(err, "fsync %s", f.path), ErrSinkFlush)
	}
	return nil
}

func (f *jsonlFile) currentSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// truncateTo drops everything after size bytes. It is used on resume to
// remove lines written after the last committed checkpoint.
func (f *jsonlFile) truncateTo(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.buf.Flush(); err != nil {
		return errors.Mark(errors.Wrapf(err, "flush %s", f.path), ErrSinkFlush)
	}
	if size > f.size {
		return errors.Newf("%s is %d bytes, shorter than the committed %d bytes", f.path, f.size, size)
	}
	if size == f.size {
		return nil
	}
	if err := f.file.Truncate(size); err != nil {
		return errors.Wrapf(err, "failed to truncate %s", f.path)
	}
	if err := f.file.Sync(); err != nil {
		return errors.Mark(errors.Wrapf(err, "fsync %s", f.path), ErrSinkFlush)
	}
	f.logger.Info("Dropped uncommitted tail", "path", f.path, "bytes", f.size-size)
	f.size = size
	return nil
}

func (f *jsonlFile) close() error {
	flushErr := f.flush()
	if err := f.file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", f.path)
	}
	return flushErr
}

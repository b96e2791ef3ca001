package input

import (
	"io"

	"github.com/cockroachdb/errors"
)

// CountRecords returns the number of offsets in the input, used as the
// progress total. Entries are skipped without being decoded.
func CountRecords(path, format string) (int64, error) {
	var (
		skip   func() error
		closer io.Closer
	)
	switch format {
	case FormatJSONL, "":
		r, err := openJSONL(path)
		if err != nil {
			return 0, err
		}
		skip, closer = r.skip, r
	case FormatJSON:
		r, err := openJSONArray(path)
		if err != nil {
			return 0, err
		}
		skip, closer = r.skip, r
	default:
		return 0, errors.WithDetailf(ErrUnsupportedFormat, "format: %s", format)
	}
	defer closer.Close()

	var n int64
	for {
		if err := skip(); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		n++
	}
}

func (r *jsonlReader) skip() error {
	_, err := r.next()
	return err
}

func (r *jsonArrayReader) skip() error {
	_, err := r.next()
	return err
}

package colfile

import (
	"bufio"
	"io"
	"math"
	"os"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/errors"
)

const writeBufferSize = 64 * 1024

// WriteAll creates or truncates path and writes values to it. The data is
// flushed and synced before WriteAll returns successfully.
func WriteAll[T catalog.Value](path string, values []T) error {
	f, err := os.Create(path) //nolint:gosec // G304: column path is chosen by the caller
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create column file").
			WithDetail("path", path)
	}
	return writeAndClose(f, path, values)
}

// Append writes values after the current end of an existing column file.
// The existing length is not checked; callers must only append to files
// written with the same type.
func Append[T catalog.Value](path string, values []T) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0) //nolint:gosec // G304: column path is chosen by the caller
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open column file for append").
			WithDetail("path", path)
	}
	return writeAndClose(f, path, values)
}

func writeAndClose[T catalog.Value](f *os.File, path string, values []T) error {
	w := bufio.NewWriterSize(f, writeBufferSize)
	if err := Write(w, values); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write column file").
			WithDetail("path", path)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush column file").
			WithDetail("path", path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync column file").
			WithDetail("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close column file").
			WithDetail("path", path)
	}
	return nil
}

// Write encodes values to w in chunks.
func Write[T catalog.Value](w io.Writer, values []T) error {
	const chunk = 4096
	buf := make([]byte, 0, EncodedLen[T](min(len(values), chunk)))
	for start := 0; start < len(values); start += chunk {
		end := min(start+chunk, len(values))
		buf = AppendEncoded(buf[:0], values[start:end])
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll reads every value in the column file at path. A file whose length
// is not a multiple of the value width is rejected.
func ReadAll[T catalog.Value](path string) ([]T, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: column path is chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read column file").
			WithDetail("path", path)
	}
	values, err := Decode[T](data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "malformed column file").
			WithDetail("path", path)
	}
	return values, nil
}

// readChunkRows bounds the buffer ReadRows allocates ahead of the data it
// has actually received.
const readChunkRows = 64 * 1024

// ReadRows reads exactly rows values from r. Fewer available bytes is an
// error and no partial result is returned.
func ReadRows[T catalog.Value](r io.Reader, rows int) ([]T, error) {
	if rows < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "row count must not be negative").
			WithDetail("rows", rows)
	}
	if rows > math.MaxInt/catalog.WidthOf[T]() {
		return nil, errors.New(errors.ErrorTypeValidation, "row count overflows the byte length").
			WithDetail("rows", rows)
	}

	out := make([]T, 0, min(rows, readChunkRows))
	buf := make([]byte, EncodedLen[T](min(rows, readChunkRows)))
	for len(out) < rows {
		n := min(rows-len(out), readChunkRows)
		chunk := buf[:EncodedLen[T](n)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read column values").
				WithDetail("rows", rows).
				WithDetail("read", len(out))
		}
		values, err := Decode[T](chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
	}
	return out, nil
}

// ReadRowsFile opens path and reads exactly rows values from its start.
func ReadRowsFile[T catalog.Value](path string, rows int) ([]T, error) {
	f, err := os.Open(path) //nolint:gosec // G304: column path is chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open column file").
			WithDetail("path", path)
	}
	defer f.Close()
	return ReadRows[T](bufio.NewReaderSize(f, writeBufferSize), rows)
}

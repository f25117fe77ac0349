package segment

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/metrics"
)

// Result describes a written segment.
type Result struct {
	// Segment is the catalog entry for the segment
	Segment catalog.SegmentMeta
	// Layout is the physical layout of the data file
	Layout *catalog.TableMetadata
	// Size is the size of the data file in bytes
	Size int64
}

// align rounds offset up to a multiple of width.
func align(offset uint64, width int) uint64 {
	w := uint64(width)
	if w <= 1 {
		return offset
	}
	return (offset + w - 1) / w * w
}

// Plan computes the layout of the segment without writing it. ref is the
// catalog-relative path recorded for every chunk.
func (b *Builder) Plan(table, ref string) Result {
	layout := &catalog.TableMetadata{
		Name:    table,
		NumRows: uint64(b.Rows()),
		Columns: make([]catalog.ColumnMetadata, len(b.columns)),
	}
	seg := catalog.SegmentMeta{
		ID:       b.id,
		RowCount: uint64(b.Rows()),
		Columns:  make([]catalog.ColumnChunkMeta, len(b.columns)),
	}

	var offset uint64
	for i, c := range b.columns {
		offset = align(offset, c.typ.Width())
		layout.Columns[i] = catalog.ColumnMetadata{
			Name:     c.name,
			DataType: c.typ,
			Offset:   offset,
			Length:   uint64(len(c.data)),
		}
		offset += uint64(len(c.data))
	}
	for i, c := range b.columns {
		if c.mask == nil {
			continue
		}
		maskOffset, maskLength := offset, uint64(len(c.mask))
		layout.Columns[i].NullMaskOffset = &maskOffset
		layout.Columns[i].NullMaskLength = &maskLength
		offset += maskLength
	}

	for i, c := range b.columns {
		col := layout.Columns[i]
		seg.Columns[i] = catalog.ColumnChunkMeta{
			Name:           c.name,
			File:           ref,
			Encoding:       c.typ.Encoding(),
			Offset:         col.Offset,
			Length:         col.Length,
			NullMaskOffset: col.NullMaskOffset,
			NullMaskLength: col.NullMaskLength,
			Min:            c.min,
			Max:            c.max,
		}
	}
	return Result{Segment: seg, Layout: layout, Size: int64(offset)}
}

// WriteTo writes the data file bytes to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var pad [8]byte
	write := func(p []byte) error {
		n, err := w.Write(p)
		written += int64(n)
		return err
	}

	for _, c := range b.columns {
		if gap := align(uint64(written), c.typ.Width()) - uint64(written); gap > 0 {
			if err := write(pad[:gap]); err != nil {
				return written, err
			}
		}
		if err := write(c.data); err != nil {
			return written, err
		}
	}
	for _, c := range b.columns {
		if c.mask == nil {
			continue
		}
		if err := write(c.mask); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Write writes the segment data file to path and returns its catalog entry.
// The file is written under a temporary name in the same directory and
// renamed into place once complete, so path either does not exist or holds
// the whole segment.
func (b *Builder) Write(table, path, ref string) (*Result, error) {
	if len(b.columns) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "segment has no columns").
			WithDetail("segment", b.id)
	}
	res := b.Plan(table, ref)
	if err := res.Layout.Validate(uint64(res.Size)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "planned layout is inconsistent")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create segment file").
			WithDetail("path", path)
	}
	tmpName := tmp.Name()
	fail := func(err error, msg string) (*Result, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, errors.Wrap(err, errors.ErrorTypeFile, msg).WithDetail("path", path)
	}

	w := bufio.NewWriterSize(tmp, 256*1024)
	n, err := b.WriteTo(w)
	if err != nil {
		return fail(err, "failed to write segment file")
	}
	if err := w.Flush(); err != nil {
		return fail(err, "failed to flush segment file")
	}
	if n != res.Size {
		return fail(errors.Newf(errors.ErrorTypeInternal, "wrote %d bytes, planned %d", n, res.Size),
			"segment size mismatch")
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err, "failed to set segment file mode")
	}
	if b.opts.sync {
		if err := tmp.Sync(); err != nil {
			return fail(err, "failed to sync segment file")
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to close segment file").
			WithDetail("path", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to publish segment file").
			WithDetail("path", path)
	}

	metrics.BytesWritten.Add(float64(res.Size))
	b.logger.Info("segment written",
		zap.String("path", path),
		zap.Int64("bytes", res.Size),
		zap.Int("rows", b.Rows()),
		zap.Int("columns", len(b.columns)))
	return &res, nil
}

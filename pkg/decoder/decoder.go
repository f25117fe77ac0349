// Package decoder reads typed columns directly out of a memory-mapped
// segment data file.
//
// A Decoder owns one read-only mapping for its whole lifetime. Slices it
// returns may alias the mapping and are only valid until Close. Accessors
// never mutate the decoder and may be called from any number of goroutines;
// Close must not run concurrently with them.
package decoder

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/colfile"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/nullmask"
)

// AlignmentPolicy selects what a typed read does when the mapped bytes of
// a column are not aligned for the requested type.
type AlignmentPolicy int

const (
	// AlignmentCopy decodes misaligned columns into a fresh slice
	AlignmentCopy AlignmentPolicy = iota
	// AlignmentStrict fails misaligned reads with an ErrorTypeLayout error
	AlignmentStrict
)

// ParseAlignmentPolicy maps a configuration value to a policy.
func ParseAlignmentPolicy(s string) (AlignmentPolicy, error) {
	switch s {
	case "", "copy":
		return AlignmentCopy, nil
	case "strict":
		return AlignmentStrict, nil
	}
	return AlignmentCopy, errors.Newf(errors.ErrorTypeConfig, "unknown alignment policy %q", s)
}

func (p AlignmentPolicy) String() string {
	if p == AlignmentStrict {
		return "strict"
	}
	return "copy"
}

type options struct {
	policy   AlignmentPolicy
	advice   mmap.Advice
	prefetch bool
	validate bool
	logger   *zap.Logger
}

// Option configures Open.
type Option func(*options)

// WithAlignmentPolicy sets the misaligned read policy. The default is
// AlignmentCopy.
func WithAlignmentPolicy(p AlignmentPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithAdvice sets the kernel access advice for the mapping.
func WithAdvice(a mmap.Advice) Option {
	return func(o *options) { o.advice = a }
}

// WithPrefetch asks the kernel to read a column's pages ahead of each
// typed read.
func WithPrefetch(enabled bool) Option {
	return func(o *options) { o.prefetch = enabled }
}

// WithLayoutValidation validates the layout against the mapped file size at
// Open, so range errors surface before any read.
func WithLayoutValidation() Option {
	return func(o *options) { o.validate = true }
}

// WithLogger sets the logger used by the decoder.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Decoder answers column requests against one mapped segment data file.
type Decoder struct {
	path   string
	table  catalog.TableMetadata
	reader *mmap.Reader
	opts   options
	logger *zap.Logger
}

// Open maps the data file at path and pairs it with its layout. The layout
// is copied, so later changes to table do not affect the decoder.
func Open(path string, table *catalog.TableMetadata, opts ...Option) (*Decoder, error) {
	if table == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "table layout is required")
	}
	o := options{policy: AlignmentCopy, advice: mmap.AdviceNormal}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}

	reader, err := mmap.NewReader(path, o.advice)
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		path:   path,
		table:  cloneTable(table),
		reader: reader,
		opts:   o,
		logger: o.logger.With(zap.String("table", table.Name), zap.String("path", path)),
	}

	if o.validate {
		if err := d.table.Validate(uint64(reader.Len())); err != nil {
			_ = reader.Close()
			return nil, err
		}
	}

	metrics.SegmentsOpened.Inc()
	metrics.BytesMapped.Add(float64(reader.Len()))
	d.logger.Debug("segment mapped",
		zap.Int64("bytes", reader.Len()),
		zap.Int("columns", len(d.table.Columns)),
		zap.Uint64("rows", d.table.NumRows))
	return d, nil
}

func cloneTable(t *catalog.TableMetadata) catalog.TableMetadata {
	out := catalog.TableMetadata{
		Name:    t.Name,
		NumRows: t.NumRows,
		Columns: make([]catalog.ColumnMetadata, len(t.Columns)),
	}
	for i, c := range t.Columns {
		if c.NullMaskOffset != nil {
			v := *c.NullMaskOffset
			c.NullMaskOffset = &v
		}
		if c.NullMaskLength != nil {
			v := *c.NullMaskLength
			c.NullMaskLength = &v
		}
		out.Columns[i] = c
	}
	return out
}

// Path returns the path of the mapped data file.
func (d *Decoder) Path() string {
	return d.path
}

// Table returns the layout the decoder was opened with. The returned value
// must not be modified.
func (d *Decoder) Table() *catalog.TableMetadata {
	return &d.table
}

// Size returns the size of the mapped data file in bytes.
func (d *Decoder) Size() int64 {
	return d.reader.Len()
}

// ColumnBytes returns the raw mapped bytes of the named column. It reports
// false if the column is unknown or its range lies outside the mapping.
func (d *Decoder) ColumnBytes(name string) ([]byte, bool) {
	_, b, err := d.columnBytes(name)
	if err != nil {
		return nil, false
	}
	return b, true
}

// NullMask returns the raw null mask of the named column.
func (d *Decoder) NullMask(name string) ([]byte, error) {
	col, err := d.column(name)
	if err != nil {
		return nil, err
	}
	return d.nullMask(col)
}

func (d *Decoder) column(name string) (*catalog.ColumnMetadata, error) {
	col, ok := d.table.Column(name)
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "column not found").
			WithDetail("table", d.table.Name).
			WithDetail("column", name)
	}
	return col, nil
}

func (d *Decoder) columnBytes(name string) (*catalog.ColumnMetadata, []byte, error) {
	col, err := d.column(name)
	if err != nil {
		return nil, nil, err
	}
	b, err := d.reader.ReadRange(col.Offset, col.Length)
	if err != nil {
		return nil, nil, withColumn(err, name)
	}
	return col, b, nil
}

func (d *Decoder) nullMask(col *catalog.ColumnMetadata) ([]byte, error) {
	if !col.Nullable() {
		return nil, errors.New(errors.ErrorTypeMissingNullMask, "column has no null mask").
			WithDetail("table", d.table.Name).
			WithDetail("column", col.Name)
	}
	b, err := d.reader.ReadRange(*col.NullMaskOffset, *col.NullMaskLength)
	if err != nil {
		return nil, withColumn(err, col.Name)
	}
	return b, nil
}

func withColumn(err error, column string) error {
	var se *errors.Error
	if errors.As(err, &se) {
		return se.WithDetail("column", column)
	}
	return err
}

// Close releases the mapping and then the file handle. Slices previously
// returned by the decoder must not be used afterwards.
func (d *Decoder) Close() error {
	return d.reader.Close()
}

// Nullable is one row of a nullable column.
type Nullable[T catalog.Value] struct {
	Value T
	Valid bool
}

// ColumnSlice returns the named column as a []T. The column's declared type
// must be T's logical type. When the mapped bytes are suitably aligned on a
// little-endian host the slice aliases the mapping; otherwise the column is
// decoded into a new slice, or rejected under AlignmentStrict. The returned
// slice must not be modified: an aliased slice points at read-only pages.
func ColumnSlice[T catalog.Value](d *Decoder, name string) ([]T, error) {
	values, err := columnSlice[T](d, name)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(string(errors.TypeOf(err))).Inc()
		return nil, err
	}
	return values, nil
}

func columnSlice[T catalog.Value](d *Decoder, name string) ([]T, error) {
	col, err := d.column(name)
	if err != nil {
		return nil, err
	}
	want := catalog.TypeOf[T]()
	if col.DataType != want {
		return nil, errors.New(errors.ErrorTypeTypeMismatch, "column type mismatch").
			WithDetail("table", d.table.Name).
			WithDetail("column", name).
			WithDetail("required", want.String()).
			WithDetail("actual", col.DataType.String())
	}

	b, err := d.reader.ReadRange(col.Offset, col.Length)
	if err != nil {
		return nil, withColumn(err, name)
	}
	w := want.Width()
	if len(b)%w != 0 {
		return nil, errors.New(errors.ErrorTypeLayout, "column length is not a multiple of its width").
			WithDetail("column", name).
			WithDetail("length", len(b)).
			WithDetail("width", w)
	}
	if want == catalog.Bool {
		if err := colfile.ValidateBools(b); err != nil {
			return nil, withColumn(err, name)
		}
	}
	if len(b) == 0 {
		metrics.ColumnReads.WithLabelValues(want.String(), metrics.PathZeroCopy).Inc()
		return []T{}, nil
	}
	if d.opts.prefetch {
		d.reader.Prefetch(col.Offset, col.Length)
	}

	if values, ok := reinterpret[T](b); ok {
		metrics.ColumnReads.WithLabelValues(want.String(), metrics.PathZeroCopy).Inc()
		return values, nil
	}

	if d.opts.policy == AlignmentStrict {
		return nil, errors.New(errors.ErrorTypeLayout, "column is not aligned for zero-copy access").
			WithDetail("column", name).
			WithDetail("offset", col.Offset).
			WithDetail("alignment", alignOf[T]())
	}

	d.logger.Debug("column not aligned, decoding copy",
		zap.String("column", name),
		zap.Uint64("offset", col.Offset),
		zap.Stringer("type", want))
	values, err := colfile.Decode[T](b)
	if err != nil {
		return nil, withColumn(err, name)
	}
	metrics.ColumnReads.WithLabelValues(want.String(), metrics.PathCopy).Inc()
	return values, nil
}

// NullableColumn returns the named column with nulls applied from its null
// mask. Rows whose mask bit is clear, or which the mask does not cover, are
// returned with Valid set to false.
func NullableColumn[T catalog.Value](d *Decoder, name string) ([]Nullable[T], error) {
	values, err := ColumnSlice[T](d, name)
	if err != nil {
		return nil, err
	}
	col, _ := d.table.Column(name)
	mask, err := d.nullMask(col)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(string(errors.TypeOf(err))).Inc()
		return nil, err
	}

	out := make([]Nullable[T], len(values))
	for i, v := range values {
		if nullmask.IsPresent(mask, i) {
			out[i] = Nullable[T]{Value: v, Valid: true}
		}
	}
	return out, nil
}

// Pointers converts nullable rows into pointers, nil for null rows.
func Pointers[T catalog.Value](rows []Nullable[T]) []*T {
	out := make([]*T, len(rows))
	for i := range rows {
		if rows[i].Valid {
			v := rows[i].Value
			out[i] = &v
		}
	}
	return out
}

var littleEndianHost = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

func alignOf[T catalog.Value]() uintptr {
	var zero T
	return unsafe.Alignof(zero)
}

// reinterpret views b as a []T without copying. It reports false when the
// host byte order or the address of b rules that out. len(b) must be a
// non-zero multiple of T's width.
func reinterpret[T catalog.Value](b []byte) ([]T, bool) {
	if !littleEndianHost {
		return nil, false
	}
	ptr := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(ptr)%alignOf[T]() != 0 {
		return nil, false
	}
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	return unsafe.Slice((*T)(ptr), n), true
}

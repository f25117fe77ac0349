// Package segment builds immutable segment data files.
//
// A segment data file holds every column of the segment packed one after
// another in declaration order, each starting at an offset that is a
// multiple of its value width, followed by the null masks of the nullable
// columns. Padding bytes are zero. Because the file is mapped at a page
// boundary, every column can be read without copying.
package segment

import (
	"math"

	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/colfile"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/json"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/nullmask"
)

type column struct {
	name string
	typ  catalog.LogicalType
	data []byte
	mask []byte
	min  json.RawMessage
	max  json.RawMessage
}

type options struct {
	sync   bool
	logger *zap.Logger
}

// Option configures a Builder.
type Option func(*options)

// WithSync controls whether Write fsyncs the data file before publishing
// it. It defaults to true.
func WithSync(enabled bool) Option {
	return func(o *options) { o.sync = enabled }
}

// WithLogger sets the logger used by the builder.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Builder accumulates the columns of one segment. The first column added
// fixes the row count; every later column must match it. A Builder is not
// safe for concurrent use.
type Builder struct {
	id      string
	rows    int
	columns []column
	opts    options
	logger  *zap.Logger
}

// NewBuilder returns an empty builder for the segment with the given id.
func NewBuilder(id string, opts ...Option) *Builder {
	o := options{sync: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}
	return &Builder{
		id:     id,
		rows:   -1,
		opts:   o,
		logger: o.logger.With(zap.String("segment", id)),
	}
}

// ID returns the segment id.
func (b *Builder) ID() string {
	return b.id
}

// Rows returns the row count, or 0 before any column was added.
func (b *Builder) Rows() int {
	if b.rows < 0 {
		return 0
	}
	return b.rows
}

// Columns returns the definitions of the columns added so far.
func (b *Builder) Columns() []catalog.ColumnDef {
	defs := make([]catalog.ColumnDef, len(b.columns))
	for i, c := range b.columns {
		defs[i] = catalog.ColumnDef{Name: c.name, LogicalType: c.typ}
	}
	return defs
}

// AddColumn adds a non-nullable column.
func AddColumn[T catalog.Value](b *Builder, name string, values []T) error {
	if err := b.check(name, len(values)); err != nil {
		return err
	}
	minV, maxV := stats(values, nil)
	b.add(column{
		name: name,
		typ:  catalog.TypeOf[T](),
		data: colfile.Encode(values),
		min:  minV,
		max:  maxV,
	})
	return nil
}

// AddNullableColumn adds a column with a null mask. present must have one
// entry per value; the value stored for a null row is written as is and
// never read back as present.
func AddNullableColumn[T catalog.Value](b *Builder, name string, values []T, present []bool) error {
	if len(present) != len(values) {
		return errors.New(errors.ErrorTypeValidation, "presence and values differ in length").
			WithDetail("column", name).
			WithDetail("values", len(values)).
			WithDetail("present", len(present))
	}
	if err := b.check(name, len(values)); err != nil {
		return err
	}
	minV, maxV := stats(values, present)
	b.add(column{
		name: name,
		typ:  catalog.TypeOf[T](),
		data: colfile.Encode(values),
		mask: nullmask.Encode(present),
		min:  minV,
		max:  maxV,
	})
	return nil
}

// AddColumnFile adds a non-nullable column read from a plain column file of
// the given type.
func (b *Builder) AddColumnFile(name string, typ catalog.LogicalType, path string) error {
	switch typ {
	case catalog.Bool:
		return addColumnFile[bool](b, name, path)
	case catalog.UInt8:
		return addColumnFile[uint8](b, name, path)
	case catalog.Int32:
		return addColumnFile[int32](b, name, path)
	case catalog.UInt32:
		return addColumnFile[uint32](b, name, path)
	case catalog.Int64:
		return addColumnFile[int64](b, name, path)
	case catalog.Float64:
		return addColumnFile[float64](b, name, path)
	}
	return errors.Newf(errors.ErrorTypeValidation, "unsupported column type %s", typ).
		WithDetail("column", name)
}

func addColumnFile[T catalog.Value](b *Builder, name, path string) error {
	values, err := colfile.ReadAll[T](path)
	if err != nil {
		return err
	}
	return AddColumn(b, name, values)
}

func (b *Builder) check(name string, rows int) error {
	if name == "" {
		return errors.New(errors.ErrorTypeValidation, "column name is empty")
	}
	if !catalog.ValidColumnName(name) {
		return errors.Newf(errors.ErrorTypeValidation, "invalid column name %q", name)
	}
	for _, c := range b.columns {
		if c.name == name {
			return errors.New(errors.ErrorTypeValidation, "duplicate column").
				WithDetail("column", name)
		}
	}
	if b.rows >= 0 && rows != b.rows {
		return errors.New(errors.ErrorTypeValidation, "column row count does not match segment").
			WithDetail("column", name).
			WithDetail("rows", rows).
			WithDetail("segment_rows", b.rows)
	}
	return nil
}

func (b *Builder) add(c column) {
	if b.rows < 0 {
		b.rows = len(c.data) / c.typ.Width()
	}
	b.columns = append(b.columns, c)
	b.logger.Debug("column added",
		zap.String("column", c.name),
		zap.Stringer("type", c.typ),
		zap.Bool("nullable", c.mask != nil))
}

// stats returns the JSON encoded minimum and maximum of the present values.
// Bools are reported as 0 and 1. NaN and infinities are ignored.
func stats[T catalog.Value](values []T, present []bool) (json.RawMessage, json.RawMessage) {
	var lo, hi float64
	var ilo, ihi int64
	var ulo, uhi uint64
	found := false

	for i, v := range values {
		if present != nil && !present[i] {
			continue
		}
		switch x := any(v).(type) {
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				continue
			}
			if !found || x < lo {
				lo = x
			}
			if !found || x > hi {
				hi = x
			}
		case int32, int64:
			n := toInt64(x)
			if !found || n < ilo {
				ilo = n
			}
			if !found || n > ihi {
				ihi = n
			}
		default:
			n := toUint64(x)
			if !found || n < ulo {
				ulo = n
			}
			if !found || n > uhi {
				uhi = n
			}
		}
		found = true
	}
	if !found {
		return nil, nil
	}

	switch catalog.TypeOf[T]() {
	case catalog.Float64:
		return rawJSON(lo), rawJSON(hi)
	case catalog.Int32, catalog.Int64:
		return rawJSON(ilo), rawJSON(ihi)
	default:
		return rawJSON(ulo), rawJSON(uhi)
	}
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int32:
		return int64(x)
	case int64:
		return x
	}
	return 0
}

func toUint64(v any) uint64 {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case uint8:
		return uint64(x)
	case uint32:
		return uint64(x)
	}
	return 0
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

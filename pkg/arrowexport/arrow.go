// Package arrowexport converts mapped segments to Apache Arrow records and
// writes them as Arrow IPC or Parquet files.
package arrowexport

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/nullmask"
)

// DataType returns the Arrow type of a logical type.
func DataType(t catalog.LogicalType) (arrow.DataType, error) {
	switch t {
	case catalog.Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case catalog.UInt8:
		return arrow.PrimitiveTypes.Uint8, nil
	case catalog.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case catalog.UInt32:
		return arrow.PrimitiveTypes.Uint32, nil
	case catalog.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case catalog.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	}
	return nil, errors.Newf(errors.ErrorTypeValidation, "no Arrow type for %s", t)
}

// Schema returns the Arrow schema of a segment layout. A column is
// nullable when it has a null mask.
func Schema(table *catalog.TableMetadata) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(table.Columns))
	for _, col := range table.Columns {
		dt, err := DataType(col.DataType)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{
			Name:     col.Name,
			Type:     dt,
			Nullable: col.Nullable(),
		})
	}
	md := arrow.NewMetadata([]string{"strata.table"}, []string{table.Name})
	return arrow.NewSchema(fields, &md), nil
}

// Record reads every column of d into one Arrow record. The caller releases
// the record.
func Record(d *decoder.Decoder, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	table := d.Table()
	schema, err := Schema(table)
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	rows := int(table.NumRows)
	for i, col := range table.Columns {
		var valid []bool
		if col.Nullable() {
			mask, err := d.NullMask(col.Name)
			if err != nil {
				return nil, err
			}
			valid = nullmask.Decode(mask, rows)
		}

		switch fb := b.Field(i).(type) {
		case *array.BooleanBuilder:
			err = appendColumn[bool](d, col.Name, rows, valid, fb)
		case *array.Uint8Builder:
			err = appendColumn[uint8](d, col.Name, rows, valid, fb)
		case *array.Int32Builder:
			err = appendColumn[int32](d, col.Name, rows, valid, fb)
		case *array.Uint32Builder:
			err = appendColumn[uint32](d, col.Name, rows, valid, fb)
		case *array.Int64Builder:
			err = appendColumn[int64](d, col.Name, rows, valid, fb)
		case *array.Float64Builder:
			err = appendColumn[float64](d, col.Name, rows, valid, fb)
		default:
			err = errors.Newf(errors.ErrorTypeInternal, "unexpected Arrow builder %T", fb)
		}
		if err != nil {
			return nil, err
		}
	}
	return b.NewRecord(), nil
}

type appender[T catalog.Value] interface {
	AppendValues(v []T, valid []bool)
}

// appendColumn requires every column to hold exactly rows values so the
// record's columns line up with each other and with the mask.
func appendColumn[T catalog.Value](d *decoder.Decoder, name string, rows int, valid []bool, b appender[T]) error {
	values, err := decoder.ColumnSlice[T](d, name)
	if err != nil {
		return err
	}
	if len(values) != rows {
		return errors.New(errors.ErrorTypeLayout, "column row count differs from table row count").
			WithDetail("column", name).
			WithDetail("values", len(values)).
			WithDetail("rows", rows)
	}
	b.AppendValues(values, valid)
	return nil
}

// WriteIPC writes the segment as an Arrow IPC file holding one record
// batch.
func WriteIPC(w io.Writer, d *decoder.Decoder) error {
	mem := memory.NewGoAllocator()
	rec, err := Record(d, mem)
	if err != nil {
		return err
	}
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create Arrow writer")
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write Arrow record")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to finish Arrow file")
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// printRows writes the selected columns of d as an aligned table.
func printRows(w io.Writer, d *decoder.Decoder, want []string) error {
	table := d.Table()
	names := columnNames(table, want)

	cells := make([][]string, len(names))
	for i, name := range names {
		col, ok := table.Column(name)
		if !ok {
			return errors.New(errors.ErrorTypeNotFound, "column not found").
				WithDetail("table", table.Name).
				WithDetail("column", name)
		}
		values, err := formatColumn(d, col)
		if err != nil {
			return err
		}
		if uint64(len(values)) != table.NumRows {
			return errors.Newf(errors.ErrorTypeLayout, "column has %d rows, segment has %d", len(values), table.NumRows).
				WithDetail("column", name)
		}
		cells[i] = values
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(names, "\t"))
	for row := 0; row < int(table.NumRows); row++ {
		line := make([]string, len(names))
		for i := range names {
			line[i] = cells[i][row]
		}
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	return tw.Flush()
}

func formatColumn(d *decoder.Decoder, col *catalog.ColumnMetadata) ([]string, error) {
	switch col.DataType {
	case catalog.Bool:
		return formatTyped(d, col, strconv.FormatBool)
	case catalog.UInt8:
		return formatTyped(d, col, func(v uint8) string { return strconv.FormatUint(uint64(v), 10) })
	case catalog.Int32:
		return formatTyped(d, col, func(v int32) string { return strconv.FormatInt(int64(v), 10) })
	case catalog.UInt32:
		return formatTyped(d, col, func(v uint32) string { return strconv.FormatUint(uint64(v), 10) })
	case catalog.Int64:
		return formatTyped(d, col, func(v int64) string { return strconv.FormatInt(v, 10) })
	case catalog.Float64:
		return formatTyped(d, col, func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) })
	}
	return nil, errors.Newf(errors.ErrorTypeValidation, "unsupported column type %s", col.DataType)
}

func formatTyped[T catalog.Value](d *decoder.Decoder, col *catalog.ColumnMetadata, format func(T) string) ([]string, error) {
	if !col.Nullable() {
		values, err := decoder.ColumnSlice[T](d, col.Name)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = format(v)
		}
		return out, nil
	}

	rows, err := decoder.NullableColumn[T](d, col.Name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		if r.Valid {
			out[i] = format(r.Value)
		} else {
			out[i] = "NULL"
		}
	}
	return out, nil
}

package segment

import (
	"os"
	"path/filepath"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/colfile"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// ColumnFileName returns the name of the plain column file exported for a
// column.
func ColumnFileName(column string) string {
	return "data_" + column + ".bin"
}

// MaskFileName returns the name of the null mask file exported for a
// nullable column.
func MaskFileName(column string) string {
	return "data_" + column + ".mask"
}

// ExportColumnFiles writes every column of an open segment as a plain
// column file in dir, plus a mask file for each nullable column, for tools
// that expect one file per column. It returns the paths written.
func ExportColumnFiles(d *decoder.Decoder, dir string) ([]string, error) {
	for _, col := range d.Table().Columns {
		if !catalog.ValidColumnName(col.Name) {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid column name %q", col.Name).
				WithDetail("table", d.Table().Name)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create export directory").
			WithDetail("path", dir)
	}

	var written []string
	for _, col := range d.Table().Columns {
		path := filepath.Join(dir, ColumnFileName(col.Name))
		if err := exportColumn(d, col, path); err != nil {
			return written, err
		}
		written = append(written, path)

		if !col.Nullable() {
			continue
		}
		mask, err := d.NullMask(col.Name)
		if err != nil {
			return written, err
		}
		maskPath := filepath.Join(dir, MaskFileName(col.Name))
		if err := catalog.WriteFileAtomic(maskPath, mask); err != nil {
			return written, err
		}
		written = append(written, maskPath)
	}
	return written, nil
}

func exportColumn(d *decoder.Decoder, col catalog.ColumnMetadata, path string) error {
	switch col.DataType {
	case catalog.Bool:
		return exportTyped[bool](d, col.Name, path)
	case catalog.UInt8:
		return exportTyped[uint8](d, col.Name, path)
	case catalog.Int32:
		return exportTyped[int32](d, col.Name, path)
	case catalog.UInt32:
		return exportTyped[uint32](d, col.Name, path)
	case catalog.Int64:
		return exportTyped[int64](d, col.Name, path)
	case catalog.Float64:
		return exportTyped[float64](d, col.Name, path)
	}
	return errors.Newf(errors.ErrorTypeValidation, "unsupported column type %s", col.DataType).
		WithDetail("column", col.Name)
}

func exportTyped[T catalog.Value](d *decoder.Decoder, name, path string) error {
	values, err := decoder.ColumnSlice[T](d, name)
	if err != nil {
		return err
	}
	return colfile.WriteAll(path, values)
}

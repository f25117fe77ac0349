package catalog

import (
	"math"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/nullmask"
)

// ColumnMetadata locates one column inside a segment's data file.
type ColumnMetadata struct {
	Name     string      `json:"name"`
	DataType LogicalType `json:"data_type"`
	// Offset and Length are byte positions relative to the start of the file
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
	// NullMaskOffset and NullMaskLength are both set or both nil
	NullMaskOffset *uint64 `json:"null_mask_offset,omitempty"`
	NullMaskLength *uint64 `json:"null_mask_length,omitempty"`
}

// Nullable reports whether the column carries a null mask.
func (c *ColumnMetadata) Nullable() bool {
	return c.NullMaskOffset != nil && c.NullMaskLength != nil
}

// Rows returns the number of values stored in the column.
func (c *ColumnMetadata) Rows() uint64 {
	w := c.DataType.Width()
	if w == 0 {
		return 0
	}
	return c.Length / uint64(w)
}

// TableMetadata is the physical layout of one segment.
type TableMetadata struct {
	Name    string           `json:"name"`
	Columns []ColumnMetadata `json:"columns"`
	NumRows uint64           `json:"num_rows"`
}

// Column looks up a column by name. Tables hold few columns, so a linear
// scan is used.
func (t *TableMetadata) Column(name string) (*ColumnMetadata, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Validate checks the layout for internal consistency. When size is non-zero
// every byte range must also fit within a file of that size.
func (t *TableMetadata) Validate(size uint64) error {
	seen := make(map[string]struct{}, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Name == "" {
			return errors.New(errors.ErrorTypeValidation, "column name is empty").
				WithDetail("index", i)
		}
		if _, dup := seen[c.Name]; dup {
			return errors.New(errors.ErrorTypeValidation, "duplicate column").
				WithDetail("column", c.Name)
		}
		seen[c.Name] = struct{}{}

		if err := t.validateColumn(c, size); err != nil {
			return err
		}
	}
	return nil
}

func (t *TableMetadata) validateColumn(c *ColumnMetadata, size uint64) error {
	if !c.DataType.Valid() {
		return errors.New(errors.ErrorTypeValidation, "invalid column type").
			WithDetail("column", c.Name)
	}
	w := uint64(c.DataType.Width())
	if c.Length%w != 0 {
		return errors.New(errors.ErrorTypeLayout, "column length is not a multiple of its width").
			WithDetail("column", c.Name).
			WithDetail("length", c.Length).
			WithDetail("width", w)
	}
	if c.Length/w != t.NumRows {
		return errors.New(errors.ErrorTypeValidation, "column row count does not match table").
			WithDetail("column", c.Name).
			WithDetail("rows", c.Length/w).
			WithDetail("num_rows", t.NumRows)
	}
	if err := checkRange(c.Name, "data", c.Offset, c.Length, size); err != nil {
		return err
	}

	if (c.NullMaskOffset == nil) != (c.NullMaskLength == nil) {
		return errors.New(errors.ErrorTypeValidation, "null mask offset and length must be set together").
			WithDetail("column", c.Name)
	}
	if !c.Nullable() {
		return nil
	}
	if need := uint64(nullmask.ByteLen(int(t.NumRows))); *c.NullMaskLength < need {
		return errors.New(errors.ErrorTypeValidation, "null mask is shorter than the row count requires").
			WithDetail("column", c.Name).
			WithDetail("mask_length", *c.NullMaskLength).
			WithDetail("required", need)
	}
	return checkRange(c.Name, "null_mask", *c.NullMaskOffset, *c.NullMaskLength, size)
}

func checkRange(column, region string, offset, length, size uint64) error {
	if offset > math.MaxUint64-length {
		return errors.New(errors.ErrorTypeOutOfBounds, "byte range overflows").
			WithDetail("column", column).
			WithDetail("region", region)
	}
	if size > 0 && offset+length > size {
		return errors.New(errors.ErrorTypeOutOfBounds, "byte range exceeds segment size").
			WithDetail("column", column).
			WithDetail("region", region).
			WithDetail("end", offset+length).
			WithDetail("size", size)
	}
	return nil
}

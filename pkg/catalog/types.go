// Package catalog defines the closed set of logical column types, the
// physical layout descriptor of a segment and the persisted logical catalog
// of a table.
//
// Every logical type has a fixed byte width and a little-endian plain
// encoding. The mapping from a type to its width and encoding tag is part of
// the on-disk format and never changes.
package catalog

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// LogicalType is the canonical column type. It is used both by the physical
// layout and by the persisted catalog.
type LogicalType uint8

const (
	// Invalid is the zero value and is never persisted
	Invalid LogicalType = iota
	// Bool is stored as one byte, 0 or 1
	Bool
	// UInt8 is stored as one byte
	UInt8
	// Int32 is stored as four little-endian bytes
	Int32
	// UInt32 is stored as four little-endian bytes
	UInt32
	// Int64 is stored as eight little-endian bytes
	Int64
	// Float64 is stored as eight little-endian IEEE-754 bytes
	Float64
)

// Encoding tags written to the catalog for each logical type.
const (
	EncodingBool    = "plain_u8_bool"
	EncodingUInt8   = "plain_u8"
	EncodingInt32   = "plain_le_i32"
	EncodingUInt32  = "plain_le_u32"
	EncodingInt64   = "plain_le_i64"
	EncodingFloat64 = "plain_le_f64"
)

type typeInfo struct {
	name     string
	width    int
	encoding string
}

var typeTable = [...]typeInfo{
	Invalid: {name: "Invalid"},
	Bool:    {name: "Bool", width: 1, encoding: EncodingBool},
	UInt8:   {name: "UInt8", width: 1, encoding: EncodingUInt8},
	Int32:   {name: "Int32", width: 4, encoding: EncodingInt32},
	UInt32:  {name: "UInt32", width: 4, encoding: EncodingUInt32},
	Int64:   {name: "Int64", width: 8, encoding: EncodingInt64},
	Float64: {name: "Float64", width: 8, encoding: EncodingFloat64},
}

// AllTypes lists every valid logical type in declaration order.
func AllTypes() []LogicalType {
	return []LogicalType{Bool, UInt8, Int32, UInt32, Int64, Float64}
}

// Valid reports whether t is one of the closed set of types.
func (t LogicalType) Valid() bool {
	return t > Invalid && int(t) < len(typeTable)
}

// Width returns the byte width of one encoded value, or 0 for an invalid type.
func (t LogicalType) Width() int {
	if !t.Valid() {
		return 0
	}
	return typeTable[t].width
}

// Encoding returns the encoding tag persisted for columns of this type.
func (t LogicalType) Encoding() string {
	if !t.Valid() {
		return ""
	}
	return typeTable[t].encoding
}

func (t LogicalType) String() string {
	if int(t) < len(typeTable) {
		return typeTable[t].name
	}
	return fmt.Sprintf("LogicalType(%d)", uint8(t))
}

// ParseLogicalType parses a type name such as "UInt32". Matching is case
// insensitive.
func ParseLogicalType(s string) (LogicalType, error) {
	for _, t := range AllTypes() {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return Invalid, errors.Newf(errors.ErrorTypeValidation, "unknown logical type %q", s)
}

// TypeForEncoding returns the logical type an encoding tag decodes to.
func TypeForEncoding(encoding string) (LogicalType, error) {
	for _, t := range AllTypes() {
		if t.Encoding() == encoding {
			return t, nil
		}
	}
	return Invalid, errors.Newf(errors.ErrorTypeFormat, "unknown encoding %q", encoding)
}

// Value is the closed set of Go representations a column can be read as.
type Value interface {
	bool | uint8 | int32 | uint32 | int64 | float64
}

// TypeOf returns the logical type whose representation is T.
func TypeOf[T Value]() LogicalType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return Bool
	case uint8:
		return UInt8
	case int32:
		return Int32
	case uint32:
		return UInt32
	case int64:
		return Int64
	case float64:
		return Float64
	}
	return Invalid
}

// WidthOf returns the encoded byte width of T.
func WidthOf[T Value]() int {
	return TypeOf[T]().Width()
}

// Package colfile reads and writes plain fixed-width column files.
//
// A column file is the concatenation of its values, each encoded with the
// fixed width of its logical type in little-endian byte order. There is no
// header, footer or length prefix.
package colfile

import (
	"encoding/binary"
	"math"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// EncodedLen returns the encoded size of n values of type T.
func EncodedLen[T catalog.Value](n int) int {
	return n * catalog.WidthOf[T]()
}

// AppendEncoded appends the little-endian encoding of values to dst.
func AppendEncoded[T catalog.Value](dst []byte, values []T) []byte {
	switch vs := any(values).(type) {
	case []bool:
		for _, v := range vs {
			if v {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		}
	case []uint8:
		dst = append(dst, vs...)
	case []int32:
		for _, v := range vs {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(v))
		}
	case []uint32:
		for _, v := range vs {
			dst = binary.LittleEndian.AppendUint32(dst, v)
		}
	case []int64:
		for _, v := range vs {
			dst = binary.LittleEndian.AppendUint64(dst, uint64(v))
		}
	case []float64:
		for _, v := range vs {
			dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
		}
	}
	return dst
}

// Encode returns the little-endian encoding of values.
func Encode[T catalog.Value](values []T) []byte {
	return AppendEncoded(make([]byte, 0, EncodedLen[T](len(values))), values)
}

// Decode decodes buf into a newly allocated slice. The length of buf must be
// an exact multiple of the width of T, and bool bytes must be 0 or 1.
func Decode[T catalog.Value](buf []byte) ([]T, error) {
	w := catalog.WidthOf[T]()
	if len(buf)%w != 0 {
		return nil, errors.New(errors.ErrorTypeLayout, "buffer length is not a multiple of the value width").
			WithDetail("length", len(buf)).
			WithDetail("width", w)
	}
	out := make([]T, len(buf)/w)
	if err := DecodeInto(out, buf); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeInto decodes len(dst) values from the front of buf into dst.
func DecodeInto[T catalog.Value](dst []T, buf []byte) error {
	w := catalog.WidthOf[T]()
	if len(buf) < len(dst)*w {
		return errors.New(errors.ErrorTypeOutOfBounds, "buffer is shorter than the requested values").
			WithDetail("length", len(buf)).
			WithDetail("required", len(dst)*w)
	}
	switch out := any(dst).(type) {
	case []bool:
		for i := range out {
			switch buf[i] {
			case 0:
				out[i] = false
			case 1:
				out[i] = true
			default:
				return invalidBool(i, buf[i])
			}
		}
	case []uint8:
		copy(out, buf)
	case []int32:
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case []uint32:
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
	case []int64:
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	case []float64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	}
	return nil
}

// ValidateBools checks that every byte of buf is a valid bool encoding.
func ValidateBools(buf []byte) error {
	for i, b := range buf {
		if b > 1 {
			return invalidBool(i, b)
		}
	}
	return nil
}

func invalidBool(row int, b byte) error {
	return errors.New(errors.ErrorTypeData, "invalid bool byte").
		WithDetail("row", row).
		WithDetail("byte", b)
}

// Package nullmask implements the bit-packed null presence mask.
//
// Row i is described by bit i%8 of byte i/8, least significant bit first.
// A set bit means the value is present, a clear bit means it is null.
package nullmask

import (
	"github.com/bits-and-blooms/bitset"
)

// ByteLen returns the number of mask bytes needed for rows rows.
func ByteLen(rows int) int {
	if rows <= 0 {
		return 0
	}
	return (rows + 7) / 8
}

// IsPresent reports whether row is marked present. Rows beyond the end of
// the mask are reported as null.
func IsPresent(mask []byte, row int) bool {
	if row < 0 {
		return false
	}
	byteIdx := row / 8
	if byteIdx >= len(mask) {
		return false
	}
	return mask[byteIdx]&(1<<uint(row%8)) != 0
}

// Encode packs a presence slice into a mask of ByteLen(len(present)) bytes.
// Padding bits in the final byte are zero.
func Encode(present []bool) []byte {
	mask := make([]byte, ByteLen(len(present)))
	for i, p := range present {
		if p {
			mask[i/8] |= 1 << uint(i%8)
		}
	}
	return mask
}

// Decode expands the first rows bits of mask. Rows the mask does not cover
// decode as null.
func Decode(mask []byte, rows int) []bool {
	if rows <= 0 {
		return []bool{}
	}
	present := make([]bool, rows)
	for i := range present {
		present[i] = IsPresent(mask, i)
	}
	return present
}

// CountPresent returns how many of the first rows rows are present.
func CountPresent(mask []byte, rows int) int {
	n := 0
	for i := 0; i < rows; i++ {
		if IsPresent(mask, i) {
			n++
		}
	}
	return n
}

// Builder accumulates presence bits for a column whose length is not known
// up front.
type Builder struct {
	bits *bitset.BitSet
	rows uint
}

// NewBuilder returns a builder with room for capacity rows.
func NewBuilder(capacity int) *Builder {
	if capacity < 0 {
		capacity = 0
	}
	return &Builder{bits: bitset.New(uint(capacity))}
}

// Append records the presence of the next row.
func (b *Builder) Append(present bool) {
	if present {
		b.bits.Set(b.rows)
	}
	b.rows++
}

// AppendNull records a null row.
func (b *Builder) AppendNull() {
	b.Append(false)
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int {
	return int(b.rows)
}

// NullCount returns the number of null rows appended so far.
func (b *Builder) NullCount() int {
	return int(b.rows) - int(b.bits.Count())
}

// Bytes returns the packed mask for the rows appended so far.
func (b *Builder) Bytes() []byte {
	mask := make([]byte, ByteLen(int(b.rows)))
	for i, ok := b.bits.NextSet(0); ok && i < b.rows; i, ok = b.bits.NextSet(i + 1) {
		mask[i/8] |= 1 << (i % 8)
	}
	return mask
}

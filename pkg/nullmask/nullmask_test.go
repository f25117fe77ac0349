package nullmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteLen(t *testing.T) {
	cases := map[int]int{-1: 0, 0: 0, 1: 1, 7: 1, 8: 1, 9: 2, 16: 2, 17: 3}
	for rows, want := range cases {
		assert.Equal(t, want, ByteLen(rows), "rows=%d", rows)
	}
}

func TestIsPresentLSBFirst(t *testing.T) {
	mask := []byte{0b00001101}
	want := []bool{true, false, true, true, false, false, false, false}
	for i, w := range want {
		assert.Equal(t, w, IsPresent(mask, i), "row %d", i)
	}
}

func TestIsPresentBoundary(t *testing.T) {
	mask := []byte{0x00, 0x80}

	// Row 15 is the high bit of the last valid byte.
	assert.True(t, IsPresent(mask, 15))
	assert.False(t, IsPresent(mask, 14))

	// Row 16 would live in byte 2, which does not exist.
	assert.False(t, IsPresent(mask, 16))
	assert.False(t, IsPresent(mask, 1<<20))
	assert.False(t, IsPresent(mask, -1))
	assert.False(t, IsPresent(nil, 0))
}

func TestIsPresentLastByteAllSet(t *testing.T) {
	mask := []byte{0xFF, 0xFF, 0xFF}
	for i := 0; i < 24; i++ {
		require.True(t, IsPresent(mask, i), "row %d", i)
	}
	assert.False(t, IsPresent(mask, 24))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 7, 8, 9, 63, 64, 65} {
		present := make([]bool, n)
		for i := range present {
			present[i] = i%3 != 1
		}
		mask := Encode(present)
		require.Len(t, mask, ByteLen(n))
		assert.Equal(t, present, Decode(mask, n), "n=%d", n)
	}
}

func TestEncodePadsWithZero(t *testing.T) {
	mask := Encode([]bool{true, true, true})
	assert.Equal(t, []byte{0b00000111}, mask)
}

func TestDecodeShortMaskIsNull(t *testing.T) {
	got := Decode([]byte{0xFF}, 10)
	assert.Equal(t, []bool{true, true, true, true, true, true, true, true, false, false}, got)
	assert.Equal(t, 8, CountPresent([]byte{0xFF}, 10))
}

func TestBuilderMatchesEncode(t *testing.T) {
	present := []bool{true, false, true, true, false, false, true, false, true, true}
	b := NewBuilder(2)
	for _, p := range present {
		b.Append(p)
	}
	b.AppendNull()
	present = append(present, false)

	assert.Equal(t, len(present), b.Len())
	assert.Equal(t, 5, b.NullCount())
	assert.Equal(t, Encode(present), b.Bytes())
}

func TestBuilderEmpty(t *testing.T) {
	b := NewBuilder(0)
	assert.Empty(t, b.Bytes())
	assert.Equal(t, 0, b.NullCount())
}

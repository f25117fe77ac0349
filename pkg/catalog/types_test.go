package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/errors"
)

func TestTypeTable(t *testing.T) {
	tests := []struct {
		typ      LogicalType
		width    int
		encoding string
	}{
		{Bool, 1, "plain_u8_bool"},
		{UInt8, 1, "plain_u8"},
		{Int32, 4, "plain_le_i32"},
		{UInt32, 4, "plain_le_u32"},
		{Int64, 8, "plain_le_i64"},
		{Float64, 8, "plain_le_f64"},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.True(t, tt.typ.Valid())
			assert.Equal(t, tt.width, tt.typ.Width())
			assert.Equal(t, tt.encoding, tt.typ.Encoding())

			parsed, err := ParseLogicalType(tt.typ.String())
			require.NoError(t, err)
			assert.Equal(t, tt.typ, parsed)

			fromEnc, err := TypeForEncoding(tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, fromEnc)
		})
	}
	assert.Len(t, AllTypes(), len(tests))
}

func TestInvalidType(t *testing.T) {
	assert.False(t, Invalid.Valid())
	assert.Equal(t, 0, Invalid.Width())
	assert.Equal(t, "", LogicalType(42).Encoding())
	assert.Equal(t, "LogicalType(42)", LogicalType(42).String())

	_, err := ParseLogicalType("Decimal")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = TypeForEncoding("dict_rle")
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestParseLogicalTypeIgnoresCase(t *testing.T) {
	typ, err := ParseLogicalType("uint32")
	require.NoError(t, err)
	assert.Equal(t, UInt32, typ)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, Bool, TypeOf[bool]())
	assert.Equal(t, UInt8, TypeOf[uint8]())
	assert.Equal(t, Int32, TypeOf[int32]())
	assert.Equal(t, UInt32, TypeOf[uint32]())
	assert.Equal(t, Int64, TypeOf[int64]())
	assert.Equal(t, Float64, TypeOf[float64]())

	assert.Equal(t, 8, WidthOf[float64]())
	assert.Equal(t, 1, WidthOf[bool]())
}

func TestLogicalTypeJSON(t *testing.T) {
	data, err := UInt32.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"UInt32"}`, string(data))

	var typ LogicalType
	require.NoError(t, typ.UnmarshalJSON([]byte(`{"type":"Bool"}`)))
	assert.Equal(t, Bool, typ)

	require.NoError(t, typ.UnmarshalJSON([]byte(`"Float64"`)))
	assert.Equal(t, Float64, typ)

	assert.Error(t, typ.UnmarshalJSON([]byte(`{"type":"Utf8"}`)))
	_, err = Invalid.MarshalJSON()
	assert.Error(t, err)
}

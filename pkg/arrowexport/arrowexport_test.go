//go:build linux || darwin

package arrowexport

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/colfile"
	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/segment"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

func openUsers(t *testing.T) *decoder.Decoder {
	t.Helper()
	b := segment.NewBuilder("0001", segment.WithLogger(testutil.TestLogger(t)), segment.WithSync(false))
	require.NoError(t, segment.AddColumn(b, "user_id", []uint32{100, 101, 102}))
	require.NoError(t, segment.AddNullableColumn(b, "age", []uint8{30, 0, 41}, []bool{true, false, true}))
	require.NoError(t, segment.AddColumn(b, "is_active", []bool{true, false, true}))
	require.NoError(t, segment.AddColumn(b, "balance", []float64{1.5, -2, 0}))
	require.NoError(t, segment.AddColumn(b, "visits", []int64{1, 2, 3}))
	require.NoError(t, segment.AddColumn(b, "delta", []int32{-1, 0, 1}))

	path := filepath.Join(t.TempDir(), "data.bin")
	res, err := b.Write("users", path, "data.bin")
	require.NoError(t, err)
	d, err := decoder.Open(path, res.Layout, decoder.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSchema(t *testing.T) {
	d := openUsers(t)
	schema, err := Schema(d.Table())
	require.NoError(t, err)

	require.Len(t, schema.Fields(), 6)
	assert.Equal(t, arrow.PrimitiveTypes.Uint32, schema.Field(0).Type)
	assert.False(t, schema.Field(0).Nullable)
	assert.Equal(t, arrow.PrimitiveTypes.Uint8, schema.Field(1).Type)
	assert.True(t, schema.Field(1).Nullable)
	assert.Equal(t, arrow.FixedWidthTypes.Boolean, schema.Field(2).Type)
	v, ok := schema.Metadata().GetValue("strata.table")
	assert.True(t, ok)
	assert.Equal(t, "users", v)

	_, err = DataType(catalog.Invalid)
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)
}

func TestRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec, err := Record(openUsers(t), mem)
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(3), rec.NumRows())
	assert.Equal(t, []uint32{100, 101, 102}, rec.Column(0).(*array.Uint32).Uint32Values())

	age := rec.Column(1).(*array.Uint8)
	assert.Equal(t, 1, age.NullN())
	assert.True(t, age.IsNull(1))
	assert.Equal(t, uint8(41), age.Value(2))

	active := rec.Column(2).(*array.Boolean)
	assert.True(t, active.Value(0))
	assert.False(t, active.Value(1))
	assert.Equal(t, []float64{1.5, -2, 0}, rec.Column(3).(*array.Float64).Float64Values())
	assert.Equal(t, []int32{-1, 0, 1}, rec.Column(5).(*array.Int32).Int32Values())
}

func TestWriteIPC(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, openUsers(t)))

	r, err := ipc.NewFileReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 1, r.NumRecords())
	rec, err := r.Record(0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.NumRows())
	assert.Equal(t, []int64{1, 2, 3}, rec.Column(4).(*array.Int64).Int64Values())
}

func TestWriteParquet(t *testing.T) {
	for _, algo := range []compression.Algorithm{compression.None, compression.Snappy, compression.Zstd} {
		t.Run(string(algo), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteParquet(&buf, openUsers(t), algo))

			pf, err := file.NewParquetReader(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			defer pf.Close()
			assert.Equal(t, int64(3), pf.NumRows())

			fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
			require.NoError(t, err)
			tbl, err := fr.ReadTable(context.Background())
			require.NoError(t, err)
			defer tbl.Release()
			assert.Equal(t, int64(6), tbl.NumCols())
			assert.Equal(t, 1, tbl.Column(1).NullN())
		})
	}

	err := WriteParquet(&bytes.Buffer{}, openUsers(t), compression.S2)
	testutil.RequireErrorType(t, err, errors.ErrorTypeConfig)
}

func TestRecordRejectsRowCountDrift(t *testing.T) {
	path := testutil.WriteFile(t, "data.bin",
		colfile.Encode([]uint32{10, 20, 30}),
		[]byte{0b111},
	)
	table := &catalog.TableMetadata{
		Name:    "drift",
		NumRows: 2,
		Columns: []catalog.ColumnMetadata{
			{Name: "v", DataType: catalog.UInt32, Offset: 0, Length: 12,
				NullMaskOffset: testutil.Ptr[uint64](12), NullMaskLength: testutil.Ptr[uint64](1)},
		},
	}
	d, err := decoder.Open(path, table, decoder.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	defer d.Close()

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)
	_, err = Record(d, mem)
	testutil.RequireErrorType(t, err, errors.ErrorTypeLayout)

	var buf bytes.Buffer
	err = WriteIPC(&buf, d)
	testutil.RequireErrorType(t, err, errors.ErrorTypeLayout)
}

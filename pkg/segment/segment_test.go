//go:build linux || darwin

package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/colfile"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

func usersBuilder(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder("0001", WithLogger(testutil.TestLogger(t)), WithSync(false))
	require.NoError(t, AddColumn(b, "user_id", []uint32{100, 101}))
	require.NoError(t, AddColumn(b, "age", []uint8{30, 25}))
	require.NoError(t, AddColumn(b, "is_active", []bool{true, false}))
	return b
}

func TestUsersSegmentEndToEnd(t *testing.T) {
	b := usersBuilder(t)
	path := filepath.Join(t.TempDir(), "data.bin")

	res, err := b.Write("users", path, "segments/0001/data.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Size)
	assert.Equal(t, uint64(2), res.Segment.RowCount)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, res.Size, info.Size())

	chunks := res.Segment.Columns
	require.Len(t, chunks, 3)
	assert.Equal(t, "plain_le_u32", chunks[0].Encoding)
	assert.Equal(t, "plain_u8", chunks[1].Encoding)
	assert.Equal(t, "plain_u8_bool", chunks[2].Encoding)
	assert.Equal(t, "100", string(chunks[0].Min))
	assert.Equal(t, "101", string(chunks[0].Max))
	assert.Equal(t, "25", string(chunks[1].Min))
	assert.Equal(t, "30", string(chunks[1].Max))
	assert.Equal(t, "0", string(chunks[2].Min))
	assert.Equal(t, "1", string(chunks[2].Max))

	d, err := decoder.Open(path, res.Layout, decoder.WithLayoutValidation(),
		decoder.WithAlignmentPolicy(decoder.AlignmentStrict))
	require.NoError(t, err)
	defer d.Close()

	ids, err := decoder.ColumnSlice[uint32](d, "user_id")
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 101}, ids)

	ages, err := decoder.ColumnSlice[uint8](d, "age")
	require.NoError(t, err)
	assert.Equal(t, []uint8{30, 25}, ages)

	active, err := decoder.ColumnSlice[bool](d, "is_active")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, active)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestColumnsAreAligned(t *testing.T) {
	b := NewBuilder("0002", WithLogger(testutil.TestLogger(t)), WithSync(false))
	require.NoError(t, AddColumn(b, "flag", []bool{true, true, false}))
	require.NoError(t, AddColumn(b, "big", []int64{-1, 0, 1 << 50}))
	require.NoError(t, AddNullableColumn(b, "score", []float64{1.5, 0, -2.25}, []bool{true, false, true}))
	require.NoError(t, AddColumn(b, "small", []int32{7, 8, 9}))

	res := b.Plan("mixed", "data.bin")
	offsets := map[string]uint64{}
	for _, c := range res.Layout.Columns {
		offsets[c.Name] = c.Offset
		assert.Zero(t, c.Offset%uint64(c.DataType.Width()), c.Name)
	}
	assert.Equal(t, uint64(0), offsets["flag"])
	assert.Equal(t, uint64(8), offsets["big"])
	assert.Equal(t, uint64(32), offsets["score"])
	assert.Equal(t, uint64(56), offsets["small"])

	score, _ := res.Layout.Column("score")
	require.True(t, score.Nullable())
	assert.Equal(t, uint64(68), *score.NullMaskOffset)
	assert.Equal(t, uint64(1), *score.NullMaskLength)
	assert.Equal(t, int64(69), res.Size)

	chunk, _ := res.Segment.Column("score")
	assert.Equal(t, "-2.25", string(chunk.Min))
	assert.Equal(t, "1.5", string(chunk.Max))

	path := filepath.Join(t.TempDir(), "data.bin")
	_, err := b.Write("mixed", path, "data.bin")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, raw[3:8], "padding must be zero")

	d, err := decoder.Open(path, res.Layout, decoder.WithAlignmentPolicy(decoder.AlignmentStrict))
	require.NoError(t, err)
	defer d.Close()

	rows, err := decoder.NullableColumn[float64](d, "score")
	require.NoError(t, err)
	assert.Equal(t, []decoder.Nullable[float64]{{Value: 1.5, Valid: true}, {}, {Value: -2.25, Valid: true}}, rows)

	big, err := decoder.ColumnSlice[int64](d, "big")
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 0, 1 << 50}, big)
}

func TestBuilderValidation(t *testing.T) {
	b := usersBuilder(t)

	err := AddColumn(b, "extra", []uint8{1, 2, 3})
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	err = AddColumn(b, "age", []uint8{1, 2})
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	err = AddColumn(b, "", []uint8{1, 2})
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	err = AddColumn(b, "../age", []uint8{1, 2})
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	err = AddNullableColumn(b, "score", []uint32{1, 2}, []bool{true})
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	assert.Len(t, b.Columns(), 3)
	assert.Equal(t, 2, b.Rows())

	_, err = NewBuilder("empty").Write("t", filepath.Join(t.TempDir(), "d.bin"), "d.bin")
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)
}

func TestStatsSkipNulls(t *testing.T) {
	b := NewBuilder("0003", WithLogger(testutil.TestLogger(t)))
	require.NoError(t, AddNullableColumn(b, "n", []int32{-100, 5, 9}, []bool{false, true, true}))
	require.NoError(t, AddNullableColumn(b, "none", []uint8{1, 2, 3}, []bool{false, false, false}))

	res := b.Plan("t", "d.bin")
	n, _ := res.Segment.Column("n")
	assert.Equal(t, "5", string(n.Min))
	assert.Equal(t, "9", string(n.Max))

	none, _ := res.Segment.Column("none")
	assert.Nil(t, none.Min)
	assert.Nil(t, none.Max)
}

func TestEmptySegment(t *testing.T) {
	b := NewBuilder("0004", WithLogger(testutil.TestLogger(t)), WithSync(false))
	require.NoError(t, AddColumn(b, "v", []float64{}))

	path := filepath.Join(t.TempDir(), "data.bin")
	res, err := b.Write("t", path, "data.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Size)

	d, err := decoder.Open(path, res.Layout)
	require.NoError(t, err)
	defer d.Close()
	values, err := decoder.ColumnSlice[float64](d, "v")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestExportAndImportColumnFiles(t *testing.T) {
	b := NewBuilder("0005", WithLogger(testutil.TestLogger(t)), WithSync(false))
	require.NoError(t, AddColumn(b, "user_id", []uint32{100, 101}))
	require.NoError(t, AddNullableColumn(b, "age", []uint8{30, 0}, []bool{true, false}))

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	res, err := b.Write("users", path, "data.bin")
	require.NoError(t, err)

	d, err := decoder.Open(path, res.Layout)
	require.NoError(t, err)
	defer d.Close()

	exportDir := filepath.Join(dir, "columns")
	files, err := ExportColumnFiles(d, exportDir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(exportDir, "data_user_id.bin"),
		filepath.Join(exportDir, "data_age.bin"),
		filepath.Join(exportDir, "data_age.mask"),
	}, files)

	ids, err := colfile.ReadAll[uint32](files[0])
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 101}, ids)

	mask, err := os.ReadFile(files[2])
	require.NoError(t, err)
	assert.Equal(t, []byte{0b01}, mask)

	imported := NewBuilder("0006", WithLogger(testutil.TestLogger(t)))
	require.NoError(t, imported.AddColumnFile("user_id", catalog.UInt32, files[0]))
	require.NoError(t, imported.AddColumnFile("age", catalog.UInt8, files[1]))
	assert.Equal(t, []catalog.ColumnDef{
		{Name: "user_id", LogicalType: catalog.UInt32},
		{Name: "age", LogicalType: catalog.UInt8},
	}, imported.Columns())

	err = imported.AddColumnFile("bad", catalog.Invalid, files[0])
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)
}

func TestAlign(t *testing.T) {
	assert.Equal(t, uint64(0), align(0, 8))
	assert.Equal(t, uint64(8), align(1, 8))
	assert.Equal(t, uint64(8), align(8, 8))
	assert.Equal(t, uint64(12), align(9, 4))
	assert.Equal(t, uint64(9), align(9, 1))
}

func TestExportRejectsPathLikeColumnNames(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, "data.bin", colfile.Encode([]uint32{1, 2}))
	layout := &catalog.TableMetadata{
		Name:    "t",
		NumRows: 2,
		Columns: []catalog.ColumnMetadata{
			{Name: "../../escape", DataType: catalog.UInt32, Offset: 0, Length: 8},
		},
	}
	d, err := decoder.Open(path, layout)
	require.NoError(t, err)
	defer d.Close()

	exportDir := filepath.Join(dir, "out")
	files, err := ExportColumnFiles(d, exportDir)
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)
	assert.Empty(t, files)
	_, err = os.Stat(filepath.Join(dir, "escape.bin"))
	assert.True(t, os.IsNotExist(err))
}

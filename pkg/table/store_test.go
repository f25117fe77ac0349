//go:build linux || darwin

package table

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/segment"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

var usersColumns = []catalog.ColumnDef{
	{Name: "user_id", LogicalType: catalog.UInt32},
	{Name: "age", LogicalType: catalog.UInt8},
	{Name: "is_active", LogicalType: catalog.Bool},
}

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.TestLogger(t)), WithSync(false)}, opts...)
	s, err := Open(filepath.Join(t.TempDir(), "data"), opts...)
	require.NoError(t, err)
	return s
}

func usersSegment(t *testing.T, s *Store) *segment.Builder {
	t.Helper()
	b, err := s.NewSegment("users")
	require.NoError(t, err)
	require.NoError(t, segment.AddColumn(b, "user_id", []uint32{100, 101}))
	require.NoError(t, segment.AddColumn(b, "age", []uint8{30, 25}))
	require.NoError(t, segment.AddColumn(b, "is_active", []bool{true, false}))
	return b
}

func TestPublishAndRead(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := newStore(t)

	_, err := s.CreateTable(ctx, "users", usersColumns)
	require.NoError(t, err)

	b := usersSegment(t, s)
	assert.Equal(t, "0001", b.ID())
	seg, err := s.Publish(ctx, "users", b)
	require.NoError(t, err)
	assert.Equal(t, "0001", seg.ID)
	assert.Equal(t, "segments/0001/data.bin", seg.Columns[0].File)

	meta, err := s.Table("users")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), meta.TotalRows())
	assert.FileExists(t, filepath.Join(s.Root(), "users", "table_meta.json"))
	assert.FileExists(t, filepath.Join(s.SegmentDir("users", "0001"), "data.bin"))

	d, err := s.OpenSegment(ctx, "users", "0001")
	require.NoError(t, err)
	defer d.Close()
	ids, err := decoder.ColumnSlice[uint32](d, "user_id")
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 101}, ids)
	active, err := decoder.ColumnSlice[bool](d, "is_active")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, active)

	next, err := s.NewSegment("users")
	require.NoError(t, err)
	assert.Equal(t, "0002", next.ID())

	tables, err := s.Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)
}

func TestPublishIsWriteOnce(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := newStore(t)
	_, err := s.CreateTable(ctx, "users", usersColumns)
	require.NoError(t, err)

	_, err = s.Publish(ctx, "users", usersSegment(t, s))
	require.NoError(t, err)

	again := segment.NewBuilder("0001", segment.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, segment.AddColumn(again, "user_id", []uint32{1}))
	require.NoError(t, segment.AddColumn(again, "age", []uint8{1}))
	require.NoError(t, segment.AddColumn(again, "is_active", []bool{true}))
	_, err = s.Publish(ctx, "users", again)
	testutil.RequireErrorType(t, err, errors.ErrorTypeConflict)

	// An orphaned directory left by a crash also blocks the id.
	require.NoError(t, os.MkdirAll(s.SegmentDir("users", "0002"), 0o755))
	_, err = s.Publish(ctx, "users", usersSegment(t, s))
	testutil.RequireErrorType(t, err, errors.ErrorTypeConflict)

	meta, err := s.Table("users")
	require.NoError(t, err)
	assert.Len(t, meta.Segments, 1)
}

func TestPublishRejectsSchemaMismatch(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := newStore(t)
	_, err := s.CreateTable(ctx, "users", usersColumns)
	require.NoError(t, err)

	b, err := s.NewSegment("users")
	require.NoError(t, err)
	require.NoError(t, segment.AddColumn(b, "user_id", []int64{1}))
	_, err = s.Publish(ctx, "users", b)
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	_, err = os.Stat(s.SegmentDir("users", b.ID()))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateTableErrors(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := newStore(t)

	_, err := s.CreateTable(ctx, "users", usersColumns)
	require.NoError(t, err)
	_, err = s.CreateTable(ctx, "users", usersColumns)
	testutil.RequireErrorType(t, err, errors.ErrorTypeConflict)

	_, err = s.CreateTable(ctx, "../escape", usersColumns)
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	_, err = s.CreateTable(ctx, "dup", []catalog.ColumnDef{
		{Name: "a", LogicalType: catalog.Int32},
		{Name: "a", LogicalType: catalog.Int64},
	})
	testutil.RequireErrorType(t, err, errors.ErrorTypeValidation)

	_, err = s.Table("missing")
	testutil.RequireErrorType(t, err, errors.ErrorTypeNotFound)

	_, err = s.OpenSegment(ctx, "users", "0009")
	testutil.RequireErrorType(t, err, errors.ErrorTypeNotFound)
}

func TestColumnFiles(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := newStore(t, WithColumnFiles(true))
	_, err := s.CreateTable(ctx, "users", usersColumns)
	require.NoError(t, err)
	_, err = s.Publish(ctx, "users", usersSegment(t, s))
	require.NoError(t, err)

	dir := s.SegmentDir("users", "0001")
	for _, c := range usersColumns {
		assert.FileExists(t, filepath.Join(dir, segment.ColumnFileName(c.Name)))
	}
}

func TestAttach(t *testing.T) {
	ctx := testutil.TestContext(t)
	src := newStore(t)
	_, err := src.CreateTable(ctx, "users", usersColumns)
	require.NoError(t, err)
	seg, err := src.Publish(ctx, "users", usersSegment(t, src))
	require.NoError(t, err)

	dst := newStore(t)
	_, err = dst.CreateTable(ctx, "users", usersColumns)
	require.NoError(t, err)

	// Nothing restored yet.
	err = dst.Attach(ctx, "users", *seg)
	testutil.RequireErrorType(t, err, errors.ErrorTypeFile)

	data, err := os.ReadFile(filepath.Join(src.SegmentDir("users", "0001"), DataFileName))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dst.SegmentDir("users", "0001"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst.SegmentDir("users", "0001"), DataFileName), data[:5], 0o644))
	err = dst.Attach(ctx, "users", *seg)
	testutil.RequireErrorType(t, err, errors.ErrorTypeOutOfBounds)

	require.NoError(t, os.WriteFile(filepath.Join(dst.SegmentDir("users", "0001"), DataFileName), data, 0o644))
	require.NoError(t, dst.Attach(ctx, "users", *seg))
	testutil.RequireErrorType(t, dst.Attach(ctx, "users", *seg), errors.ErrorTypeConflict)

	want, err := src.Table("users")
	require.NoError(t, err)
	got, err := dst.Table("users")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConcurrentPublish(t *testing.T) {
	ctx := testutil.TestContext(t)
	s := newStore(t)
	_, err := s.CreateTable(ctx, "events", []catalog.ColumnDef{{Name: "v", LogicalType: catalog.Int64}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := segment.NewBuilder(fmt.Sprintf("%04d", i), segment.WithLogger(testutil.TestLogger(t)), segment.WithSync(false))
			assert.NoError(t, segment.AddColumn(b, "v", []int64{int64(i)}))
			_, err := s.Publish(ctx, "events", b)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	meta, err := s.Table("events")
	require.NoError(t, err)
	assert.Len(t, meta.Segments, 8)
	assert.Equal(t, uint64(8), meta.TotalRows())
}

//go:build linux || darwin

package demo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/table"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

func TestWriteUsers(t *testing.T) {
	ctx := testutil.TestContext(t)
	store, err := table.Open(filepath.Join(t.TempDir(), "data"),
		table.WithLogger(testutil.TestLogger(t)), table.WithSync(false))
	require.NoError(t, err)

	seg, err := WriteUsers(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "0001", seg.ID)
	assert.Equal(t, "100", string(seg.Columns[0].Min))
	assert.Equal(t, "101", string(seg.Columns[0].Max))

	again, err := WriteUsers(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "0002", again.ID)

	d, err := store.OpenSegment(ctx, UsersTable, "0001")
	require.NoError(t, err)
	defer d.Close()
	ages, err := decoder.ColumnSlice[uint8](d, "age")
	require.NoError(t, err)
	assert.Equal(t, []uint8{30, 25}, ages)
}

// Package demo writes the sample users table used by the CLI demo and the
// examples.
package demo

import (
	"context"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/segment"
	"github.com/ajitpratap0/strata/pkg/table"
)

// UsersTable is the name of the demo table.
const UsersTable = "users"

// UsersColumns is the schema of the demo table.
var UsersColumns = []catalog.ColumnDef{
	{Name: "user_id", LogicalType: catalog.UInt32},
	{Name: "age", LogicalType: catalog.UInt8},
	{Name: "is_active", LogicalType: catalog.Bool},
}

// WriteUsers creates the users table if needed and publishes one segment
// with two users.
func WriteUsers(ctx context.Context, store *table.Store) (*catalog.SegmentMeta, error) {
	if _, err := store.CreateTable(ctx, UsersTable, UsersColumns); err != nil &&
		!errors.IsType(err, errors.ErrorTypeConflict) {
		return nil, err
	}

	b, err := store.NewSegment(UsersTable)
	if err != nil {
		return nil, err
	}
	if err := segment.AddColumn(b, "user_id", []uint32{100, 101}); err != nil {
		return nil, err
	}
	if err := segment.AddColumn(b, "age", []uint8{30, 25}); err != nil {
		return nil, err
	}
	if err := segment.AddColumn(b, "is_active", []bool{true, false}); err != nil {
		return nil, err
	}
	return store.Publish(ctx, UsersTable, b)
}

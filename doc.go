// Package strata is a columnar storage core: tables are stored as immutable
// segments of fixed-width little-endian columns that are read back through
// memory mapping, without copying, as typed Go slices.
//
// # Architecture
//
// A table is a directory holding a JSON catalog and one directory per
// segment:
//
//	<data_dir>/<table>/table_meta.json
//	<data_dir>/<table>/segments/0001/data.bin
//
// A segment data file packs every column in declaration order, each at an
// offset that is a multiple of its value width, followed by the null masks
// of the nullable columns. The catalog records each column's byte range,
// its encoding tag and min/max statistics.
//
// Reading maps the data file once and hands out slices that alias the
// mapping. A slice is only valid while its decoder is open.
//
// # Quick Start
//
//	store, _ := table.Open("./data")
//	_, _ = store.CreateTable(ctx, "users", []catalog.ColumnDef{
//	    {Name: "user_id", LogicalType: catalog.UInt32},
//	    {Name: "age", LogicalType: catalog.UInt8},
//	})
//
//	b, _ := store.NewSegment("users")
//	_ = segment.AddColumn(b, "user_id", []uint32{100, 101})
//	_ = segment.AddNullableColumn(b, "age", []uint8{30, 0}, []bool{true, false})
//	_, _ = store.Publish(ctx, "users", b)
//
//	d, _ := store.OpenSegment(ctx, "users", "0001")
//	defer d.Close()
//	ids, _ := decoder.ColumnSlice[uint32](d, "user_id")
//	ages, _ := decoder.NullableColumn[uint8](d, "age")
//
// # Key Packages
//
//	pkg/catalog      - Logical types, layouts and the JSON table catalog
//	pkg/colfile      - Fixed-width little-endian column codec
//	pkg/nullmask     - LSB-first presence bitmaps
//	pkg/mmap         - Read-only file mappings
//	pkg/decoder      - Typed zero-copy column reads
//	pkg/segment      - Segment builder and writer
//	pkg/table        - Table directories and write-once publishing
//	pkg/archive      - Compressed segment archives on local disk, S3 or GCS
//	pkg/arrowexport  - Arrow IPC and Parquet export
//	pkg/config       - YAML and environment configuration
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
//	pkg/profiling    - pprof and execution trace capture
//
// # Configuration
//
// Configuration is read from YAML with ${VAR_NAME} substitution, and every
// key can be overridden by a STRATA_* environment variable, for example
// STRATA_DECODER_ALIGNMENT_POLICY=strict.
//
// # Command Line
//
//	strata demo
//	strata tables
//	strata read users 0001
//	strata export users 0001 --format parquet
//	strata archive push users 0001
//	strata --profile cpu,memory export users 0001
package strata

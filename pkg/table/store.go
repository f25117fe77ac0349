// Package table manages tables on disk: one directory per table holding
// its catalog and its published segments.
//
//	<root>/<table>/table_meta.json
//	<root>/<table>/segments/<id>/data.bin
//
// Segments are write-once. Publishing writes the data file first and the
// catalog last, so a crash between the two leaves an orphaned segment
// directory but never a catalog entry pointing at missing data.
package table

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/catalog"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/segment"
)

const (
	// MetaFileName is the catalog file inside a table directory
	MetaFileName = "table_meta.json"
	// SegmentsDir holds one directory per segment
	SegmentsDir = "segments"
	// DataFileName is the data file inside a segment directory
	DataFileName = "data.bin"
)

type options struct {
	logger      *zap.Logger
	sync        bool
	columnFiles bool
	decoderOpts []decoder.Option
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSync controls fsync of published data files. Defaults to true.
func WithSync(enabled bool) Option {
	return func(o *options) { o.sync = enabled }
}

// WithColumnFiles also writes per-column plain files next to each published
// data file.
func WithColumnFiles(enabled bool) Option {
	return func(o *options) { o.columnFiles = enabled }
}

// WithDecoderOptions sets the options used by OpenSegment.
func WithDecoderOptions(opts ...decoder.Option) Option {
	return func(o *options) { o.decoderOpts = append(o.decoderOpts, opts...) }
}

// Store is a directory of tables. Catalog mutations are serialized; reads
// of published segments need no locking.
type Store struct {
	root   string
	opts   options
	logger *zap.Logger
	mu     sync.Mutex
}

// Open returns a store rooted at root, creating the directory if needed.
func Open(root string, opts ...Option) (*Store, error) {
	o := options{sync: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create data directory").
			WithDetail("path", root)
	}
	return &Store{
		root:   root,
		opts:   o,
		logger: o.logger.With(zap.String("root", root)),
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// TableDir returns the directory of a table.
func (s *Store) TableDir(table string) string {
	return filepath.Join(s.root, table)
}

// SegmentDir returns the directory of a segment.
func (s *Store) SegmentDir(table, id string) string {
	return filepath.Join(s.root, table, SegmentsDir, id)
}

// SegmentRef returns the table-relative path recorded in the catalog for a
// segment's data file.
func SegmentRef(id string) string {
	return path.Join(SegmentsDir, id, DataFileName)
}

func (s *Store) metaPath(table string) string {
	return filepath.Join(s.root, table, MetaFileName)
}

// CheckNames reports a validation error unless the table name and segment
// id are plain directory names.
func CheckNames(tableName, id string) error {
	if err := checkName("table", tableName); err != nil {
		return err
	}
	return checkName("segment", id)
}

func checkName(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Newf(errors.ErrorTypeValidation, "invalid %s name %q", kind, name)
	}
	return nil
}

// CreateTable creates an empty table with the given schema.
func (s *Store) CreateTable(ctx context.Context, name string, columns []catalog.ColumnDef) (*catalog.TableMeta, error) {
	_, span := observability.StartSpan(ctx, "table.create", attribute.String("table", name))
	meta, err := s.createTable(name, columns)
	observability.EndSpan(span, err)
	return meta, err
}

func (s *Store) createTable(name string, columns []catalog.ColumnDef) (*catalog.TableMeta, error) {
	if err := checkName("table", name); err != nil {
		return nil, err
	}
	meta := catalog.NewTableMeta(name, columns)
	if err := meta.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid table schema").
			WithDetail("table", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.metaPath(name)); err == nil {
		return nil, errors.New(errors.ErrorTypeConflict, "table already exists").
			WithDetail("table", name)
	}
	if err := os.MkdirAll(filepath.Join(s.TableDir(name), SegmentsDir), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create table directory").
			WithDetail("table", name)
	}
	if err := catalog.Save(s.metaPath(name), meta); err != nil {
		return nil, err
	}
	s.logger.Info("table created", zap.String("table", name), zap.Int("columns", len(columns)))
	return meta, nil
}

// Table loads the catalog of a table.
func (s *Store) Table(name string) (*catalog.TableMeta, error) {
	if err := checkName("table", name); err != nil {
		return nil, err
	}
	meta, err := catalog.Load(s.metaPath(name))
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "table not found").
				WithDetail("table", name)
		}
		return nil, err
	}
	if meta.Name != name {
		return nil, errors.Newf(errors.ErrorTypeFormat, "catalog names table %q", meta.Name).
			WithDetail("table", name)
	}
	return meta, nil
}

// Tables lists the tables in the store in name order.
func (s *Store) Tables() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list tables").
			WithDetail("path", s.root)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.metaPath(e.Name())); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// NewSegment returns a builder for the next segment of a table. Ids are
// zero-padded sequence numbers starting at 0001.
func (s *Store) NewSegment(table string) (*segment.Builder, error) {
	meta, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	return segment.NewBuilder(nextSegmentID(meta),
		segment.WithLogger(s.opts.logger),
		segment.WithSync(s.opts.sync)), nil
}

func nextSegmentID(meta *catalog.TableMeta) string {
	var last uint64
	for _, seg := range meta.Segments {
		if n, err := strconv.ParseUint(seg.ID, 10, 64); err == nil && n > last {
			last = n
		}
	}
	return fmt.Sprintf("%04d", last+1)
}

// Publish writes the segment held by b and adds it to the table catalog.
// A segment id can be published once; a second attempt fails with
// ErrorTypeConflict.
func (s *Store) Publish(ctx context.Context, table string, b *segment.Builder) (*catalog.SegmentMeta, error) {
	ctx = logger.WithSegment(logger.WithTable(ctx, table), b.ID())
	_, span := observability.StartSpan(ctx, "table.publish",
		attribute.String("table", table),
		attribute.String("segment", b.ID()),
		attribute.Int("rows", b.Rows()))
	timer := metrics.NewTimer(metrics.OpPublish)

	seg, err := s.publish(ctx, table, b)

	timer.ObserveDuration(err)
	observability.EndSpan(span, err)
	if err != nil {
		logger.FromContext(ctx, s.logger).Warn("publish failed", errors.Fields(err)...)
		return nil, err
	}
	metrics.SegmentsPublished.WithLabelValues(table).Inc()
	return seg, nil
}

func (s *Store) publish(ctx context.Context, table string, b *segment.Builder) (*catalog.SegmentMeta, error) {
	if err := checkName("segment", b.ID()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	if err := sameSchema(meta.Columns, b.Columns()); err != nil {
		return nil, err.WithDetail("table", table)
	}
	if _, ok := meta.FindSegment(b.ID()); ok {
		return nil, errors.New(errors.ErrorTypeConflict, "segment already published").
			WithDetail("table", table).
			WithDetail("segment", b.ID())
	}

	dir := s.SegmentDir(table, b.ID())
	if err := s.claimSegmentDir(table, b.ID()); err != nil {
		return nil, err
	}

	res, err := b.Write(table, filepath.Join(dir, DataFileName), SegmentRef(b.ID()))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if s.opts.columnFiles {
		if err := s.writeColumnFiles(dir, res.Layout); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
	}

	meta.AddSegment(res.Segment)
	if err := catalog.Save(s.metaPath(table), meta); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("segment published",
		zap.Uint64("rows", res.Segment.RowCount),
		zap.Int64("bytes", res.Size))
	return &res.Segment, nil
}

// claimSegmentDir creates the segment directory, failing if it exists.
func (s *Store) claimSegmentDir(table, id string) error {
	if err := os.MkdirAll(filepath.Join(s.TableDir(table), SegmentsDir), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create segments directory").
			WithDetail("table", table)
	}
	dir := s.SegmentDir(table, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return errors.New(errors.ErrorTypeConflict, "segment directory already exists").
				WithDetail("table", table).
				WithDetail("segment", id).
				WithDetail("path", dir)
		}
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create segment directory").
			WithDetail("path", dir)
	}
	return nil
}

func (s *Store) writeColumnFiles(dir string, layout *catalog.TableMetadata) error {
	d, err := decoder.Open(filepath.Join(dir, DataFileName), layout, decoder.WithLogger(s.opts.logger))
	if err != nil {
		return err
	}
	defer d.Close()
	_, err = segment.ExportColumnFiles(d, dir)
	return err
}

func sameSchema(want, got []catalog.ColumnDef) *errors.Error {
	if len(want) != len(got) {
		return errors.Newf(errors.ErrorTypeValidation, "segment has %d columns, table has %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			return errors.Newf(errors.ErrorTypeValidation, "segment column %d is %s %s, table expects %s %s",
				i, got[i].Name, got[i].LogicalType, want[i].Name, want[i].LogicalType)
		}
	}
	return nil
}

// Attach adds a segment whose data file is already in place under
// SegmentDir, such as one restored from an archive. The data file is
// checked against the segment's layout before the catalog is updated.
func (s *Store) Attach(ctx context.Context, table string, seg catalog.SegmentMeta) error {
	_, span := observability.StartSpan(ctx, "table.attach",
		attribute.String("table", table),
		attribute.String("segment", seg.ID))
	err := s.attach(ctx, table, seg)
	observability.EndSpan(span, err)
	return err
}

func (s *Store) attach(ctx context.Context, table string, seg catalog.SegmentMeta) error {
	if err := checkName("segment", seg.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.Table(table)
	if err != nil {
		return err
	}
	if _, ok := meta.FindSegment(seg.ID); ok {
		return errors.New(errors.ErrorTypeConflict, "segment already published").
			WithDetail("table", table).
			WithDetail("segment", seg.ID)
	}
	defs := make([]catalog.ColumnDef, len(seg.Columns))
	for i, c := range seg.Columns {
		defs[i].Name = c.Name
		if def, ok := meta.FindColumn(c.Name); ok {
			defs[i].LogicalType = def.LogicalType
		}
	}
	if err := sameSchema(meta.Columns, defs); err != nil {
		return err.WithDetail("table", table).WithDetail("segment", seg.ID)
	}
	meta.AddSegment(seg)

	file, layout, err := meta.Layout(seg.ID)
	if err != nil {
		return err
	}
	if file != SegmentRef(seg.ID) {
		return errors.New(errors.ErrorTypeFormat, "segment data file is outside its segment directory").
			WithDetail("segment", seg.ID).
			WithDetail("file", file)
	}
	d, err := decoder.Open(filepath.Join(s.TableDir(table), filepath.FromSlash(file)), layout,
		decoder.WithLayoutValidation(), decoder.WithLogger(s.opts.logger))
	if err != nil {
		return err
	}
	_ = d.Close()

	if err := catalog.Save(s.metaPath(table), meta); err != nil {
		return err
	}
	logger.FromContext(logger.WithSegment(logger.WithTable(ctx, table), seg.ID), s.logger).
		Info("segment attached", zap.Uint64("rows", seg.RowCount))
	return nil
}

// OpenSegment maps a published segment for reading. The caller closes the
// returned decoder.
func (s *Store) OpenSegment(ctx context.Context, table, id string) (*decoder.Decoder, error) {
	_, span := observability.StartSpan(ctx, "table.open_segment",
		attribute.String("table", table),
		attribute.String("segment", id))
	timer := metrics.NewTimer(metrics.OpOpenSegment)

	d, err := s.openSegment(table, id)

	timer.ObserveDuration(err)
	observability.EndSpan(span, err)
	return d, err
}

func (s *Store) openSegment(table, id string) (*decoder.Decoder, error) {
	meta, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	file, layout, err := meta.Layout(id)
	if err != nil {
		return nil, err
	}
	opts := append([]decoder.Option{decoder.WithLogger(s.opts.logger)}, s.opts.decoderOpts...)
	return decoder.Open(filepath.Join(s.TableDir(table), filepath.FromSlash(file)), layout, opts...)
}

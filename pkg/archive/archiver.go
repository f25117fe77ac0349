package archive

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/metrics"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/table"
)

// Archiver copies published segments between a table store and an object
// store.
type Archiver struct {
	tables *table.Store
	store  ObjectStore
	comps  *compression.CompressorPool
	logger *zap.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithLogger sets the archiver logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// New returns an archiver. Each Push and Pull takes its own compressor from
// comps; a nil pool stores archives uncompressed.
func New(tables *table.Store, store ObjectStore, comps *compression.CompressorPool, opts ...Option) (*Archiver, error) {
	if comps == nil {
		var err error
		if comps, err = compression.NewCompressorPool(&compression.Config{Algorithm: compression.None}); err != nil {
			return nil, err
		}
	}
	a := &Archiver{tables: tables, store: store, comps: comps}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.Get()
	}
	a.logger = a.logger.With(zap.String("backend", store.Backend()))
	return a, nil
}

// Key returns the object key of a segment archive.
func (a *Archiver) Key(tableName, id string) string {
	return path.Join(tableName, id+".tar"+a.comps.Algorithm().Extension())
}

// Push archives a published segment and returns its object key.
func (a *Archiver) Push(ctx context.Context, tableName, id string) (string, error) {
	ctx = logger.WithSegment(logger.WithTable(ctx, tableName), id)
	ctx, span := observability.StartSpan(ctx, "archive.push",
		attribute.String("table", tableName),
		attribute.String("segment", id),
		attribute.String("backend", a.store.Backend()))
	timer := metrics.NewTimer(metrics.OpArchivePush)

	key, n, err := a.push(ctx, tableName, id)

	timer.ObserveDuration(err)
	observability.EndSpan(span, err)
	log := logger.FromContext(ctx, a.logger)
	if err != nil {
		log.Warn("archive push failed", errors.Fields(err)...)
		return "", err
	}
	metrics.ArchiveBytes.WithLabelValues("push", a.store.Backend()).Add(float64(n))
	log.Info("segment archived", zap.String("key", key), zap.Int64("bytes", n))
	return key, nil
}

func (a *Archiver) push(ctx context.Context, tableName, id string) (string, int64, error) {
	if err := table.CheckNames(tableName, id); err != nil {
		return "", 0, err
	}
	meta, err := a.tables.Table(tableName)
	if err != nil {
		return "", 0, err
	}
	seg, ok := meta.FindSegment(id)
	if !ok {
		return "", 0, errors.New(errors.ErrorTypeNotFound, "segment not found").
			WithDetail("table", tableName).
			WithDetail("segment", id)
	}
	manifest := &Manifest{
		Version:     ManifestVersion,
		Table:       tableName,
		Columns:     meta.Columns,
		Segment:     *seg,
		Compression: string(a.comps.Algorithm()),
	}

	comp := a.comps.Get()
	pr, pw := io.Pipe()
	go func() {
		defer a.comps.Put(comp)
		pw.CloseWithError(Pack(pw, a.tables.SegmentDir(tableName, id), manifest, comp))
	}()
	body := &countingReader{r: pr}
	key := a.Key(tableName, id)
	err = a.store.Put(ctx, key, body)
	pr.CloseWithError(err)
	if err != nil {
		return "", 0, err
	}
	return key, body.n, nil
}

// Pull restores an archived segment into the table store. The table is
// created from the archived schema if it does not exist. Pulling a segment
// that is already present fails with ErrorTypeConflict.
func (a *Archiver) Pull(ctx context.Context, tableName, id string) error {
	ctx = logger.WithSegment(logger.WithTable(ctx, tableName), id)
	ctx, span := observability.StartSpan(ctx, "archive.pull",
		attribute.String("table", tableName),
		attribute.String("segment", id),
		attribute.String("backend", a.store.Backend()))
	timer := metrics.NewTimer(metrics.OpArchivePull)

	n, err := a.pull(ctx, tableName, id)

	timer.ObserveDuration(err)
	observability.EndSpan(span, err)
	log := logger.FromContext(ctx, a.logger)
	if err != nil {
		log.Warn("archive pull failed", errors.Fields(err)...)
		return err
	}
	metrics.ArchiveBytes.WithLabelValues("pull", a.store.Backend()).Add(float64(n))
	log.Info("segment restored", zap.Int64("bytes", n))
	return nil
}

func (a *Archiver) pull(ctx context.Context, tableName, id string) (int64, error) {
	if err := table.CheckNames(tableName, id); err != nil {
		return 0, err
	}
	dir := a.tables.SegmentDir(tableName, id)
	if _, err := os.Stat(dir); err == nil {
		return 0, errors.New(errors.ErrorTypeConflict, "segment directory already exists").
			WithDetail("table", tableName).
			WithDetail("segment", id)
	}

	rc, err := a.store.Get(ctx, a.Key(tableName, id))
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to create segments directory")
	}
	staging, err := os.MkdirTemp(filepath.Dir(dir), "."+id+".pull-*")
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to create staging directory")
	}
	defer os.RemoveAll(staging)

	body := &countingReader{r: readerWithContext(ctx, rc)}
	comp := a.comps.Get()
	defer a.comps.Put(comp)
	manifest, err := Unpack(body, staging, comp)
	if err != nil {
		return 0, err
	}
	if manifest.Table != tableName || manifest.Segment.ID != id {
		return 0, errors.Newf(errors.ErrorTypeFormat, "archive holds %s/%s", manifest.Table, manifest.Segment.ID).
			WithDetail("table", tableName).
			WithDetail("segment", id)
	}

	if _, err := a.tables.Table(tableName); errors.IsType(err, errors.ErrorTypeNotFound) {
		if _, err := a.tables.CreateTable(ctx, tableName, manifest.Columns); err != nil &&
			!errors.IsType(err, errors.ErrorTypeConflict) {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	if err := os.Rename(staging, dir); err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			return 0, errors.New(errors.ErrorTypeConflict, "segment directory already exists").
				WithDetail("table", tableName).
				WithDetail("segment", id)
		}
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to move restored segment into place")
	}
	if err := a.tables.Attach(ctx, tableName, manifest.Segment); err != nil {
		_ = os.RemoveAll(dir)
		return 0, err
	}
	return body.n, nil
}

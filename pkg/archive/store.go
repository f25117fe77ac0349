package archive

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// ObjectStore stores archives under slash-separated keys.
type ObjectStore interface {
	// Put stores everything read from r under key, replacing any object
	// already there.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens the object stored under key. A missing object yields an
	// ErrorTypeNotFound error.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Backend names the store in metrics and logs
	Backend() string
	Close() error
}

// NewStore builds the object store selected by cfg.
func NewStore(ctx context.Context, cfg config.ArchiveConfig) (ObjectStore, error) {
	var (
		store ObjectStore
		err   error
	)
	switch cfg.Backend {
	case config.BackendLocal, "":
		store, err = NewLocalStore(cfg.LocalDir)
	case config.BackendS3:
		store, err = NewS3Store(ctx, S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	case config.BackendGCS:
		store, err = NewGCSStore(ctx, GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			CredentialsFile: cfg.CredentialsFile,
		})
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown archive backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// checkKey rejects keys that are empty, absolute or climb out of the store.
func checkKey(key string) error {
	clean := path.Clean(key)
	if key == "" || path.IsAbs(key) || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.Newf(errors.ErrorTypeValidation, "invalid object key %q", key)
	}
	return nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// LocalStore keeps objects as files under a directory. It serves tests and
// single-host deployments that archive to a mounted volume.
type LocalStore struct {
	root string
}

// NewLocalStore returns a store rooted at root, creating it if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "local archive directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create archive directory").
			WithDetail("path", root)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) filename(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean(key)))
}

// Put writes the object through a temporary file renamed into place.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := checkKey(key); err != nil {
		return err
	}
	target := s.filename(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create object directory").
			WithDetail("key", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create object file").WithDetail("key", key)
	}
	fail := func(err error, msg string) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeFile, msg).WithDetail("key", key)
	}

	if _, err := io.Copy(tmp, readerWithContext(ctx, r)); err != nil {
		return fail(err, "failed to write object")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "failed to sync object")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close object").WithDetail("key", key)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to publish object").WithDetail("key", key)
	}
	return nil
}

// Get opens the object file.
func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.filename(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "object not found").WithDetail("key", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open object").WithDetail("key", key)
	}
	return f, nil
}

// Backend returns "local".
func (s *LocalStore) Backend() string {
	return config.BackendLocal
}

// Close is a no-op.
func (s *LocalStore) Close() error {
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

// readerWithContext stops reading once ctx is done.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

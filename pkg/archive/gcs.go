package archive

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/errors"
)

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
	// CredentialsFile is a service account key; empty uses application
	// default credentials
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for an emulator
	Endpoint string
}

// GCSStore keeps archives in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCSStore creates a client for cfg.Bucket.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "GCS bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Put uploads the object.
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader) error {
	if err := checkKey(key); err != nil {
		return err
	}
	w := s.bucket.Object(joinKey(s.prefix, key)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write to GCS").
			WithDetail("bucket", s.name).
			WithDetail("key", key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close GCS writer").
			WithDetail("bucket", s.name).
			WithDetail("key", key)
	}
	return nil
}

// Get opens the object for reading.
func (s *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(joinKey(s.prefix, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "object not found").
				WithDetail("bucket", s.name).
				WithDetail("key", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read from GCS").
			WithDetail("bucket", s.name).
			WithDetail("key", key)
	}
	return r, nil
}

// Backend returns "gcs".
func (s *GCSStore) Backend() string {
	return config.BackendGCS
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

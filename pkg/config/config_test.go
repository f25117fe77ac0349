package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Len(t, cfg.DecoderOptions(), 4)
}

func TestLoadFileWithSubstitution(t *testing.T) {
	t.Setenv("STRATA_TEST_BUCKET", "segments-prod")
	path := testutil.WriteFile(t, "strata.yaml", []byte(`
data_dir: /var/lib/strata
logging:
  level: debug
  encoding: console
decoder:
  alignment_policy: strict
  advice: sequential
  validate_layout: false
archive:
  algorithm: lz4
  level: 1
  backend: s3
  bucket: ${STRATA_TEST_BUCKET}
  prefix: tables/
  region: eu-west-1
  endpoint: ${STRATA_UNSET_ENDPOINT}
`))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/strata", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Encoding)
	assert.Equal(t, "strict", cfg.Decoder.AlignmentPolicy)
	assert.Equal(t, "sequential", cfg.Decoder.Advice)
	assert.False(t, cfg.Decoder.ValidateLayout)
	assert.Len(t, cfg.DecoderOptions(), 3)
	assert.Equal(t, "segments-prod", cfg.Archive.Bucket)
	assert.Equal(t, "${STRATA_UNSET_ENDPOINT}", cfg.Archive.Endpoint)
	assert.True(t, cfg.Segment.Sync, "unset keys keep their defaults")

	cc := cfg.CompressionConfig()
	assert.Equal(t, compression.LZ4, cc.Algorithm)
	assert.Equal(t, compression.Fastest, cc.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STRATA_DATA_DIR", "/tmp/strata")
	t.Setenv("STRATA_SEGMENT_SYNC", "false")
	t.Setenv("STRATA_DECODER_ALIGNMENT_POLICY", "strict")
	path := testutil.WriteFile(t, "strata.yaml", []byte("data_dir: /ignored\n"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/strata", cfg.DataDir)
	assert.False(t, cfg.Segment.Sync)
	assert.Equal(t, "strict", cfg.Decoder.AlignmentPolicy)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	testutil.RequireErrorType(t, err, errors.ErrorTypeNotFound)

	path := testutil.WriteFile(t, "bad.yaml", []byte("decoder: [unterminated\n"))
	_, err = Load(path)
	testutil.RequireErrorType(t, err, errors.ErrorTypeConfig)

	path = testutil.WriteFile(t, "policy.yaml", []byte("decoder:\n  alignment_policy: sloppy\n"))
	_, err = Load(path)
	testutil.RequireErrorType(t, err, errors.ErrorTypeConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad advice", func(c *Config) { c.Decoder.Advice = "sometimes" }},
		{"bad algorithm", func(c *Config) { c.Archive.Algorithm = "brotli" }},
		{"unknown backend", func(c *Config) { c.Archive.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Archive.Backend = BackendS3 }},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = BackendGCS }},
		{"local without dir", func(c *Config) { c.Archive.LocalDir = "" }},
		{"sampling rate", func(c *Config) { c.Tracing.SamplingRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			testutil.RequireErrorType(t, cfg.Validate(), errors.ErrorTypeConfig)
		})
	}
	require.NoError(t, Default().Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/srv/strata"
	cfg.Logging.OutputPaths = []string{"stderr"}
	cfg.Archive.Backend = BackendGCS
	cfg.Archive.Bucket = "strata-archive"
	cfg.Tracing.Enabled = true

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "bucket: strata-archive")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

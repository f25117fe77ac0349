// Package config loads strata configuration from YAML files and the
// environment.
//
// Values are resolved in this order, later sources winning:
//
//  1. built-in defaults (see Default)
//  2. the YAML file, after ${VAR} substitution
//  3. STRATA_* environment variables, e.g. STRATA_DECODER_ALIGNMENT_POLICY
package config

import (
	"bytes"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/decoder"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/mmap"
	"github.com/ajitpratap0/strata/pkg/observability"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STRATA"

// Archive backends
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// Config is the root configuration
type Config struct {
	DataDir string                      `yaml:"data_dir" json:"data_dir" mapstructure:"data_dir"`
	Logging logger.Config               `yaml:"logging" json:"logging" mapstructure:"logging"`
	Decoder DecoderConfig               `yaml:"decoder" json:"decoder" mapstructure:"decoder"`
	Segment SegmentConfig               `yaml:"segment" json:"segment" mapstructure:"segment"`
	Archive ArchiveConfig               `yaml:"archive" json:"archive" mapstructure:"archive"`
	Metrics MetricsConfig               `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing observability.TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// DecoderConfig controls how segments are mapped and read
type DecoderConfig struct {
	// AlignmentPolicy is "copy" or "strict"
	AlignmentPolicy string `yaml:"alignment_policy" json:"alignment_policy" mapstructure:"alignment_policy"`
	// Advice is the madvise hint: normal, sequential, random or willneed
	Advice         string `yaml:"advice" json:"advice" mapstructure:"advice"`
	Prefetch       bool   `yaml:"prefetch" json:"prefetch" mapstructure:"prefetch"`
	ValidateLayout bool   `yaml:"validate_layout" json:"validate_layout" mapstructure:"validate_layout"`
}

// SegmentConfig controls segment writes
type SegmentConfig struct {
	Sync bool `yaml:"sync" json:"sync" mapstructure:"sync"`
	// ColumnFiles also writes data_<column>.bin files next to each segment
	ColumnFiles bool `yaml:"column_files" json:"column_files" mapstructure:"column_files"`
}

// ArchiveConfig selects the compression and object store used to ship
// segments off-host
type ArchiveConfig struct {
	Algorithm       string `yaml:"algorithm" json:"algorithm" mapstructure:"algorithm"`
	Level           int    `yaml:"level" json:"level" mapstructure:"level"`
	Backend         string `yaml:"backend" json:"backend" mapstructure:"backend"`
	LocalDir        string `yaml:"local_dir" json:"local_dir" mapstructure:"local_dir"`
	Bucket          string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix" mapstructure:"prefix"`
	Region          string `yaml:"region" json:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file" mapstructure:"credentials_file"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address serving /metrics; empty disables it
	Listen string `yaml:"listen" json:"listen" mapstructure:"listen"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Logging: logger.DefaultConfig(),
		Decoder: DecoderConfig{
			AlignmentPolicy: decoder.AlignmentCopy.String(),
			Advice:          "normal",
			ValidateLayout:  true,
		},
		Segment: SegmentConfig{Sync: true},
		Archive: ArchiveConfig{
			Algorithm: string(compression.Zstd),
			Level:     int(compression.Default),
			Backend:   BackendLocal,
			LocalDir:  "./archive",
		},
		Tracing: observability.TracingConfig{
			ServiceName:  "strata",
			SamplingRate: 1,
		},
	}
}

// defaults mirrors Default as flat viper keys so that environment overrides
// apply even when the file omits a section.
func defaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("decoder.alignment_policy", d.Decoder.AlignmentPolicy)
	v.SetDefault("decoder.advice", d.Decoder.Advice)
	v.SetDefault("decoder.prefetch", d.Decoder.Prefetch)
	v.SetDefault("decoder.validate_layout", d.Decoder.ValidateLayout)
	v.SetDefault("segment.sync", d.Segment.Sync)
	v.SetDefault("segment.column_files", d.Segment.ColumnFiles)
	v.SetDefault("archive.algorithm", d.Archive.Algorithm)
	v.SetDefault("archive.level", d.Archive.Level)
	v.SetDefault("archive.backend", d.Archive.Backend)
	v.SetDefault("archive.local_dir", d.Archive.LocalDir)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.prefix", d.Archive.Prefix)
	v.SetDefault("archive.region", d.Archive.Region)
	v.SetDefault("archive.endpoint", d.Archive.Endpoint)
	v.SetDefault("archive.credentials_file", d.Archive.CredentialsFile)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.pretty_print", d.Tracing.PrettyPrint)
}

// Load reads configuration from path, which may be empty to use only
// defaults and the environment. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "config file not found").
					WithDetail("path", path)
			}
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
		if err := v.ReadConfig(bytes.NewReader(substituteEnvVars(data))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").
			WithDetail("path", path)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} with the variable's value. Unset
// variables are left as written.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		return match
	})
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrorTypeConfig, "data_dir is required")
	}
	if _, err := decoder.ParseAlignmentPolicy(c.Decoder.AlignmentPolicy); err != nil {
		return err
	}
	if _, err := mmap.ParseAdvice(c.Decoder.Advice); err != nil {
		return err
	}
	if _, err := compression.ParseAlgorithm(c.Archive.Algorithm); err != nil {
		return err
	}
	switch c.Archive.Backend {
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return errors.New(errors.ErrorTypeConfig, "archive.local_dir is required for the local backend")
		}
	case BackendS3, BackendGCS:
		if c.Archive.Bucket == "" {
			return errors.Newf(errors.ErrorTypeConfig, "archive.bucket is required for the %s backend", c.Archive.Backend)
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown archive backend %q", c.Archive.Backend)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}

// DecoderOptions converts the decoder section into decoder options. It
// assumes Validate has passed.
func (c *Config) DecoderOptions() []decoder.Option {
	policy, _ := decoder.ParseAlignmentPolicy(c.Decoder.AlignmentPolicy)
	advice, _ := mmap.ParseAdvice(c.Decoder.Advice)
	opts := []decoder.Option{
		decoder.WithAlignmentPolicy(policy),
		decoder.WithAdvice(advice),
		decoder.WithPrefetch(c.Decoder.Prefetch),
	}
	if c.Decoder.ValidateLayout {
		opts = append(opts, decoder.WithLayoutValidation())
	}
	return opts
}

// CompressionConfig converts the archive section into a compression config
func (c *Config) CompressionConfig() *compression.Config {
	cc := compression.DefaultConfig()
	cc.Algorithm, _ = compression.ParseAlgorithm(c.Archive.Algorithm)
	cc.Level = compression.Level(c.Archive.Level)
	return cc
}

// Package compression wraps the block and stream codecs used to ship
// segments off-host.
//
// # Algorithm Selection
//
//   - Snappy/S2: fast, moderate ratio
//   - LZ4: fastest, lower ratio
//   - Zstd: best ratio, good speed
//   - Gzip/Deflate: widest compatibility
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Default,
//	})
//	compressed, err := comp.Compress(data)
//	original, err := comp.Decompress(compressed)
//
// Streams are used for archives so that a segment never has to be held in
// memory twice:
//
//	err := comp.CompressStream(dst, src)
package compression

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression
	S2 Algorithm = "s2"
	// Deflate represents deflate compression
	Deflate Algorithm = "deflate"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate}

var extensions = map[Algorithm]string{
	None:    "",
	Gzip:    ".gz",
	Snappy:  ".sz",
	LZ4:     ".lz4",
	Zstd:    ".zst",
	S2:      ".s2",
	Deflate: ".deflate",
}

// ParseAlgorithm parses an algorithm name. The empty string means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return None, nil
	}
	if _, ok := extensions[a]; !ok {
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown compression algorithm %q", s)
	}
	return a, nil
}

// Extension returns the conventional file suffix for the algorithm.
func (a Algorithm) Extension() string {
	return extensions[a]
}

// Level represents compression level.
type Level int

const (
	// Fastest compression
	Fastest Level = 1
	// Default compression
	Default Level = 5
	// Better compression
	Better Level = 7
	// Best compression
	Best Level = 9
)

// DefaultMaxDecompressedSize bounds in-memory decompression.
const DefaultMaxDecompressedSize = 1 << 30

// Compressor compresses and decompresses byte slices and streams.
type Compressor interface {
	// Compress compresses data
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data
	Decompress(data []byte) ([]byte, error)

	// CompressStream compresses src into dst
	CompressStream(dst io.Writer, src io.Reader) error

	// DecompressStream decompresses src into dst
	DecompressStream(dst io.Writer, src io.Reader) error

	// Algorithm returns the compression algorithm
	Algorithm() Algorithm

	// Level returns the compression level
	Level() Level
}

// Config represents compression configuration
type Config struct {
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm" mapstructure:"algorithm"`
	Level     Level     `yaml:"level" json:"level" mapstructure:"level"`
	// MaxDecompressedSize caps Decompress output; 0 means DefaultMaxDecompressedSize
	MaxDecompressedSize int64 `yaml:"max_decompressed_size" json:"max_decompressed_size" mapstructure:"max_decompressed_size"`
	Concurrency         int   `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
}

// DefaultConfig returns default compression configuration
func DefaultConfig() *Config {
	return &Config{
		Algorithm:           Zstd,
		Level:               Default,
		MaxDecompressedSize: DefaultMaxDecompressedSize,
		Concurrency:         1,
	}
}

// NewCompressor creates a new compressor based on configuration
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := baseCompressor{
		algorithm: config.Algorithm,
		level:     config.Level,
		limit:     config.MaxDecompressedSize,
	}
	if base.limit <= 0 {
		base.limit = DefaultMaxDecompressedSize
	}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCompressor{base}, nil
	case Gzip:
		return &gzipCompressor{baseCompressor: base, level: tuningFor(config.Level).flate}, nil
	case Snappy:
		return &snappyCompressor{base}, nil
	case LZ4:
		return newLZ4Compressor(base), nil
	case Zstd:
		return newZstdCompressor(base, config.Concurrency)
	case S2:
		return &s2Compressor{base}, nil
	case Deflate:
		return &deflateCompressor{baseCompressor: base, level: tuningFor(config.Level).flate}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", config.Algorithm)
	}
}

// CompressorPool hands out compressors built from one Config. A compressor
// taken with Get is used by one goroutine until it is Put back.
type CompressorPool struct {
	pool      sync.Pool
	config    *Config
	algorithm Algorithm
}

// NewCompressorPool creates a new compressor pool
func NewCompressorPool(config *Config) (*CompressorPool, error) {
	// Build one eagerly so configuration errors surface here and not in Get.
	first, err := NewCompressor(config)
	if err != nil {
		return nil, err
	}
	cp := &CompressorPool{config: config, algorithm: first.Algorithm()}
	cp.pool.New = func() interface{} {
		c, _ := NewCompressor(config)
		return c
	}
	cp.pool.Put(first)
	return cp, nil
}

// Algorithm returns the algorithm of every compressor in the pool
func (cp *CompressorPool) Algorithm() Algorithm {
	return cp.algorithm
}

// Get gets a compressor from the pool
func (cp *CompressorPool) Get() Compressor {
	return cp.pool.Get().(Compressor)
}

// Put returns a compressor to the pool
func (cp *CompressorPool) Put(c Compressor) {
	cp.pool.Put(c)
}

type baseCompressor struct {
	algorithm Algorithm
	level     Level
	limit     int64
}

func (bc *baseCompressor) Algorithm() Algorithm {
	return bc.algorithm
}

func (bc *baseCompressor) Level() Level {
	return bc.level
}

// readLimited drains r into memory, failing once the output exceeds the
// configured limit.
func (bc *baseCompressor) readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, bc.limit+1))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decompression failed").
			WithDetail("algorithm", string(bc.algorithm))
	}
	if n > bc.limit {
		return nil, errors.Newf(errors.ErrorTypeData, "decompressed size exceeds limit of %d bytes", bc.limit).
			WithDetail("algorithm", string(bc.algorithm))
	}
	return buf.Bytes(), nil
}

func (bc *baseCompressor) wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.ErrorTypeData, msg).WithDetail("algorithm", string(bc.algorithm))
}

// No compression
type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

func (nc *noneCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

// Gzip compressor
type gzipCompressor struct {
	baseCompressor
	level int
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gc.level)
	if err != nil {
		return nil, gc.wrap(err, "gzip writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, gc.wrap(err, "gzip compress")
	}
	if err := w.Close(); err != nil {
		return nil, gc.wrap(err, "gzip compress")
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, gc.wrap(err, "gzip header")
	}
	defer r.Close()
	return gc.readLimited(r)
}

func (gc *gzipCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w, err := gzip.NewWriterLevel(dst, gc.level)
	if err != nil {
		return gc.wrap(err, "gzip writer")
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (gc *gzipCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r, err := gzip.NewReader(src)
	if err != nil {
		return gc.wrap(err, "gzip header")
	}
	defer r.Close()
	_, err = io.Copy(dst, r)
	return gc.wrap(err, "gzip decompress")
}

// Snappy compressor
type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, sc.wrap(err, "snappy header")
	}
	if int64(n) > sc.limit {
		return nil, errors.Newf(errors.ErrorTypeData, "decompressed size exceeds limit of %d bytes", sc.limit).
			WithDetail("algorithm", string(sc.algorithm))
	}
	out, err := snappy.Decode(nil, data)
	return out, sc.wrap(err, "snappy decompress")
}

func (sc *snappyCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := snappy.NewBufferedWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (sc *snappyCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, snappy.NewReader(src))
	return sc.wrap(err, "snappy decompress")
}

// LZ4 compressor
type lz4Compressor struct {
	baseCompressor
	level lz4.CompressionLevel
}

func newLZ4Compressor(base baseCompressor) *lz4Compressor {
	return &lz4Compressor{baseCompressor: base, level: tuningFor(base.level).lz4}
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := lc.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return lc.readLimited(lz4.NewReader(bytes.NewReader(data)))
}

func (lc *lz4Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := lz4.NewWriter(dst)
	if err := w.Apply(lz4.CompressionLevelOption(lc.level)); err != nil {
		return lc.wrap(err, "lz4 options")
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (lc *lz4Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, lz4.NewReader(src))
	return lc.wrap(err, "lz4 decompress")
}

// Zstd compressor
type zstdCompressor struct {
	baseCompressor
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	level   zstd.EncoderLevel
	conc    int
}

func newZstdCompressor(base baseCompressor, concurrency int) (*zstdCompressor, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	zc := &zstdCompressor{baseCompressor: base, level: tuningFor(base.level).zstd, conc: concurrency}

	var err error
	zc.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zc.level), zstd.WithEncoderConcurrency(concurrency))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create zstd encoder")
	}
	zc.decoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(concurrency),
		zstd.WithDecoderMaxMemory(uint64(base.limit)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create zstd decoder")
	}
	return zc, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := zc.decoder.DecodeAll(data, nil)
	return out, zc.wrap(err, "zstd decompress")
}

func (zc *zstdCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zc.level), zstd.WithEncoderConcurrency(zc.conc))
	if err != nil {
		return zc.wrap(err, "zstd writer")
	}
	if _, err := io.Copy(enc, src); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func (zc *zstdCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(zc.conc))
	if err != nil {
		return zc.wrap(err, "zstd reader")
	}
	defer dec.Close()
	_, err = io.Copy(dst, dec)
	return zc.wrap(err, "zstd decompress")
}

// S2 compressor (Snappy-compatible but better compression)
type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	n, err := s2.DecodedLen(data)
	if err != nil {
		return nil, sc.wrap(err, "s2 header")
	}
	if int64(n) > sc.limit {
		return nil, errors.Newf(errors.ErrorTypeData, "decompressed size exceeds limit of %d bytes", sc.limit).
			WithDetail("algorithm", string(sc.algorithm))
	}
	out, err := s2.Decode(nil, data)
	return out, sc.wrap(err, "s2 decompress")
}

func (sc *s2Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := s2.NewWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (sc *s2Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, s2.NewReader(src))
	return sc.wrap(err, "s2 decompress")
}

// Deflate compressor
type deflateCompressor struct {
	baseCompressor
	level int
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.CompressStream(&buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return dc.readLimited(r)
}

func (dc *deflateCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w, err := flate.NewWriter(dst, dc.level)
	if err != nil {
		return dc.wrap(err, "deflate writer")
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (dc *deflateCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r := flate.NewReader(src)
	defer r.Close()
	_, err := io.Copy(dst, r)
	return dc.wrap(err, "deflate decompress")
}

// tuning holds the per-library settings for a Level. Levels between the
// named ones round down.
type tuning struct {
	flate int
	lz4   lz4.CompressionLevel
	zstd  zstd.EncoderLevel
}

func tuningFor(level Level) tuning {
	switch {
	case level <= Fastest:
		return tuning{flate.BestSpeed, lz4.Fast, zstd.SpeedFastest}
	case level >= Best:
		return tuning{flate.BestCompression, lz4.Level9, zstd.SpeedBestCompression}
	case level >= Better:
		return tuning{7, lz4.Level7, zstd.SpeedBetterCompression}
	default:
		return tuning{flate.DefaultCompression, lz4.Level5, zstd.SpeedDefault}
	}
}

package compression

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/testutil"
)

var sample = []byte(strings.Repeat("user_id,age,is_active\n100,30,1\n101,25,0\n", 200))

func TestRoundTrip(t *testing.T) {
	for _, algo := range Algorithms {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(string(algo), func(t *testing.T) {
				c, err := NewCompressor(&Config{Algorithm: algo, Level: level})
				require.NoError(t, err)
				assert.Equal(t, algo, c.Algorithm())
				assert.Equal(t, level, c.Level())

				compressed, err := c.Compress(sample)
				require.NoError(t, err)
				if algo != None {
					assert.Less(t, len(compressed), len(sample))
				}
				out, err := c.Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, sample, out)

				var packed, unpacked bytes.Buffer
				require.NoError(t, c.CompressStream(&packed, bytes.NewReader(sample)))
				require.NoError(t, c.DecompressStream(&unpacked, &packed))
				assert.Equal(t, sample, unpacked.Bytes())
			})
		}
	}
}

func TestDecompressLimit(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Snappy, LZ4, S2, Deflate, Zstd} {
		t.Run(string(algo), func(t *testing.T) {
			c, err := NewCompressor(&Config{Algorithm: algo, Level: Default})
			require.NoError(t, err)
			compressed, err := c.Compress(sample)
			require.NoError(t, err)

			small, err := NewCompressor(&Config{Algorithm: algo, Level: Default, MaxDecompressedSize: 64})
			require.NoError(t, err)
			_, err = small.Decompress(compressed)
			testutil.RequireErrorType(t, err, errors.ErrorTypeData)
		})
	}
}

func TestCorruptInput(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Snappy, LZ4, Zstd, S2} {
		c, err := NewCompressor(&Config{Algorithm: algo})
		require.NoError(t, err)
		_, err = c.Decompress([]byte("definitely not compressed"))
		assert.Error(t, err, algo)
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)
	assert.Equal(t, ".zst", a.Extension())

	a, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, a)
	assert.Equal(t, "", a.Extension())

	_, err = ParseAlgorithm("brotli")
	testutil.RequireErrorType(t, err, errors.ErrorTypeConfig)

	_, err = NewCompressor(&Config{Algorithm: "brotli"})
	testutil.RequireErrorType(t, err, errors.ErrorTypeConfig)
}

func TestCompressorPool(t *testing.T) {
	pool, err := NewCompressorPool(&Config{Algorithm: Zstd, Level: Fastest})
	require.NoError(t, err)
	assert.Equal(t, Zstd, pool.Algorithm())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := pool.Get()
			defer pool.Put(c)

			var compressed, out bytes.Buffer
			assert.NoError(t, c.CompressStream(&compressed, bytes.NewReader(sample)))
			assert.NoError(t, c.DecompressStream(&out, &compressed))
			assert.Equal(t, sample, out.Bytes())
		}()
	}
	wg.Wait()

	none, err := NewCompressorPool(&Config{})
	require.NoError(t, err)
	assert.Equal(t, None, none.Algorithm())

	_, err = NewCompressorPool(&Config{Algorithm: "brotli"})
	testutil.RequireErrorType(t, err, errors.ErrorTypeConfig)
}

func TestTuningRoundsDown(t *testing.T) {
	assert.Equal(t, tuningFor(Fastest), tuningFor(0))
	assert.Equal(t, tuningFor(Default), tuningFor(Level(3)))
	assert.Equal(t, tuningFor(Better), tuningFor(Level(8)))
	assert.Equal(t, tuningFor(Best), tuningFor(Level(12)))
	assert.Equal(t, zstd.SpeedBetterCompression, tuningFor(Better).zstd)
}

// Package mmap provides read-only memory-mapped access to segment files
package mmap

import (
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Advice is the access pattern hint given to the kernel after mapping.
type Advice int

// ParseAdvice maps a configuration value to an Advice.
func ParseAdvice(s string) (Advice, error) {
	switch s {
	case "", "normal":
		return AdviceNormal, nil
	case "sequential":
		return AdviceSequential, nil
	case "random":
		return AdviceRandom, nil
	case "willneed":
		return AdviceWillNeed, nil
	}
	return AdviceNormal, errors.Newf(errors.ErrorTypeConfig, "unknown mmap advice %q", s)
}

const (
	// AdviceNormal leaves the kernel default in place
	AdviceNormal Advice = iota
	// AdviceSequential suits full column scans
	AdviceSequential
	// AdviceRandom suits point lookups into large segments
	AdviceRandom
	// AdviceWillNeed asks the kernel to read the whole file ahead
	AdviceWillNeed
)

// Reader is a read-only mapping of a whole file. The mapping is established
// once and never resized. An empty file is represented without a mapping.
type Reader struct {
	file     *os.File
	data     []byte
	fileSize int64
	pageSize int

	mu     sync.Mutex
	closed atomic.Bool
}

// NewReader opens and maps filename with the given access advice
func NewReader(filename string, advice Advice) (*Reader, error) {
	file, err := os.Open(filename) //nolint:gosec // G304: segment path is chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open file").
			WithDetail("path", filename)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat file").
			WithDetail("path", filename)
	}
	if !stat.Mode().IsRegular() {
		file.Close()
		return nil, errors.New(errors.ErrorTypeFile, "not a regular file").
			WithDetail("path", filename)
	}

	fileSize := stat.Size()
	r := &Reader{
		file:     file,
		fileSize: fileSize,
		pageSize: os.Getpagesize(),
	}
	if fileSize == 0 {
		return r, nil
	}
	if fileSize > math.MaxInt {
		file.Close()
		return nil, errors.New(errors.ErrorTypeFile, "file too large to map").
			WithDetail("path", filename).
			WithDetail("size", fileSize)
	}

	data, err := mmap(int(file.Fd()), 0, int(fileSize), ProtRead, MapShared)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to mmap file").
			WithDetail("path", filename)
	}
	r.data = data

	switch advice {
	case AdviceSequential:
		// madvise failures are not fatal
		_ = madvise(data, MadvSequential)
	case AdviceRandom:
		_ = madvise(data, MadvRandom)
	case AdviceWillNeed:
		_ = madvise(data, MadvWillneed)
	}

	return r, nil
}

// Len returns the size of the mapped file in bytes
func (r *Reader) Len() int64 {
	return r.fileSize
}

// Bytes returns the whole mapping. The slice must not be written to and
// must not be used after Close.
func (r *Reader) Bytes() []byte {
	return r.data
}

// ReadRange returns the mapped bytes [offset, offset+length). The whole
// range must lie within the file. Reading a closed reader is a file error.
func (r *Reader) ReadRange(offset, length uint64) ([]byte, error) {
	if r.closed.Load() {
		return nil, errors.New(errors.ErrorTypeFile, "reader closed").
			WithDetail("offset", offset).
			WithDetail("length", length)
	}
	if offset > math.MaxUint64-length || offset+length > uint64(r.fileSize) {
		return nil, errors.New(errors.ErrorTypeOutOfBounds, "range exceeds mapped file").
			WithDetail("offset", offset).
			WithDetail("length", length).
			WithDetail("size", r.fileSize)
	}
	if length == 0 {
		return []byte{}, nil
	}
	return r.data[offset : offset+length : offset+length], nil
}

// Prefetch advises the kernel that the pages covering the range will be
// read soon
func (r *Reader) Prefetch(offset, length uint64) {
	if r.closed.Load() || length == 0 || r.data == nil {
		return
	}
	size := uint64(r.fileSize)
	if offset >= size {
		return
	}
	end := offset + length
	if end > size || end < offset {
		end = size
	}

	// Align to page boundaries
	page := uint64(r.pageSize)
	start := (offset / page) * page
	_ = madvise(r.data[start:end], MadvWillneed)
}

// Close unmaps the file and closes it. Calling Close more than once is a
// no-op.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil
	}
	r.closed.Store(true)

	var err error

	// Unmap the file
	if r.data != nil {
		if unmapErr := munmap(r.data); unmapErr != nil {
			err = errors.Wrap(unmapErr, errors.ErrorTypeFile, "failed to unmap file")
		}
		r.data = nil
	}

	// Close the file
	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, errors.ErrorTypeFile, "failed to close file")
		}
		r.file = nil
	}

	return err
}

//go:build linux || darwin

package mmap

import "golang.org/x/sys/unix"

func mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, prot, flags)
}

func munmap(b []byte) error {
	return unix.Munmap(b)
}

func madvise(b []byte, advice int) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Madvise(b, advice)
}

const (
	ProtRead  = unix.PROT_READ
	MapShared = unix.MAP_SHARED

	MadvRandom     = unix.MADV_RANDOM
	MadvSequential = unix.MADV_SEQUENTIAL
	MadvWillneed   = unix.MADV_WILLNEED
)

//go:build linux

package secret

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func allocate(size int) ([]byte, bool) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return make([]byte, size), false
	}
	if err := unix.Mlock(data); err != nil {
		_ = unix.Munmap(data)
		return make([]byte, size), false
	}
	// Best effort: older kernels lack MADV_DONTDUMP but the memory is still
	// pinned.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)
	return data, true
}

func release(data []byte, locked bool) error {
	if !locked {
		return nil
	}
	if err := unix.Munlock(data); err != nil {
		_ = unix.Munmap(data)
		return fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("secret: munmap failed: %w", err)
	}
	return nil
}

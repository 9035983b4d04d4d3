//go:build !windows

package segment

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// reserveRegion maps a fresh, zero-filled anonymous region of the given
// size. Physical pages are committed lazily by the kernel on first touch,
// so reserving a large region up front is cheap.
func reserveRegion(size int64) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return mem, nil
}

// releaseRegion unmaps a region obtained from reserveRegion.
func releaseRegion(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// adviseDontNeed tells the kernel the given sub-range no longer holds
// live data, allowing it to reclaim the backing physical pages without
// releasing the virtual mapping.
func adviseDontNeed(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Madvise(mem, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("madvise: %w", err)
	}
	return nil
}

// pageSize reports the OS's native memory page size.
func pageSize() int {
	return unix.Getpagesize()
}

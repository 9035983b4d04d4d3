//go:build windows

package segment

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// reserveRegion commits a fresh, zero-filled region of the given size
// using the VirtualAlloc family: Windows has no mmap, so this is the
// platform's native virtual-memory reservation primitive.
func reserveRegion(size int64) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("VirtualAlloc: %w", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// releaseRegion releases a region obtained from reserveRegion.
func releaseRegion(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree: %w", err)
	}
	return nil
}

// adviseDontNeed marks the given sub-range as reusable without releasing
// its virtual mapping, using MEM_RESET as the Windows analogue of POSIX
// madvise(MADV_DONTNEED).
func adviseDontNeed(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	_, err := windows.VirtualAlloc(addr, uintptr(len(mem)), windows.MEM_RESET, windows.PAGE_READWRITE)
	if err != nil {
		return fmt.Errorf("VirtualAlloc(MEM_RESET): %w", err)
	}
	return nil
}

// pageSize reports the OS's native memory page size.
func pageSize() int {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	return int(info.PageSize)
}

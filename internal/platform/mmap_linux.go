//go:build linux

package platform

import "golang.org/x/sys/unix"

const mmapSupported = true

// MmapCodeSegment allocates a read-write-execute anonymous mapping of size
// bytes, backing an asm.CodeSegment that holds JIT-compiled machine code.
func MmapCodeSegment(size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// MunmapCodeSegment releases a mapping returned by MmapCodeSegment or
// RemapCodeSegment.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	return unix.Munmap(code)
}

// RemapCodeSegment grows a code segment by mapping a fresh, larger region
// and copying the old contents into it. There is no portable mremap in
// golang.org/x/sys/unix for every platform this package targets, so this
// always relocates rather than resizing in place.
func RemapCodeSegment(code []byte, size int) ([]byte, error) {
	newCode, err := MmapCodeSegment(size)
	if err != nil {
		return nil, err
	}
	copy(newCode, code)
	if len(code) > 0 {
		if err := MunmapCodeSegment(code); err != nil {
			return nil, err
		}
	}
	return newCode, nil
}

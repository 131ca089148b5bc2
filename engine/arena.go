package engine

import (
	"fmt"
	"unsafe"
)

// Allocation records one region carved from the arena.
type Allocation struct {
	Name   string
	Offset int
	Size   int
}

// Arena is a fixed-capacity bump allocator over a single reserved region.
// It never grows: a request that does not fit fails with ErrArenaExhausted.
type Arena struct {
	buf    []byte
	off    int
	allocs []Allocation
}

// NewArena wraps buf. The arena capacity is len(buf).
func NewArena(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// Capacity returns the arena size in bytes.
func (a *Arena) Capacity() int {
	return len(a.buf)
}

// Used returns the bytes consumed so far, alignment padding included.
func (a *Arena) Used() int {
	return a.off
}

// Remaining returns the bytes still available.
func (a *Arena) Remaining() int {
	return len(a.buf) - a.off
}

// Allocations returns the regions carved so far.
func (a *Arena) Allocations() []Allocation {
	out := make([]Allocation, len(a.allocs))
	copy(out, a.allocs)
	return out
}

// Alloc carves size bytes aligned to align (a power of two) and zeroes them.
func (a *Arena) Alloc(name string, size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("arena alloc %q: invalid size %d", name, size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("arena alloc %q: alignment %d is not a power of two", name, align)
	}

	start := a.off
	if start < len(a.buf) {
		addr := uintptr(unsafe.Pointer(&a.buf[start]))
		if rem := int(addr & uintptr(align-1)); rem != 0 {
			start += align - rem
		}
	}
	end := start + size
	if end > len(a.buf) || end < start {
		return nil, fmt.Errorf("%w: %q needs %d bytes, %d of %d remaining",
			ErrArenaExhausted, name, size, a.Remaining(), len(a.buf))
	}

	region := a.buf[start:end:end]
	clear(region)
	a.off = end
	a.allocs = append(a.allocs, Allocation{Name: name, Offset: start, Size: size})
	return region, nil
}

// AllocFloat32 carves n float32 values from the arena.
func (a *Arena) AllocFloat32(name string, n int) ([]float32, error) {
	b, err := a.Alloc(name, n*4, tensorAlign)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n), nil
}

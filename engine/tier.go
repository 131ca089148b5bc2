package engine

import (
	"fmt"
	"runtime"
)

// TierInfo describes the capacity of a memory tier.
type TierInfo struct {
	Total uint64
	Free  uint64
}

// Tier is a memory region class the arena can be reserved from.
type Tier interface {
	Name() string
	// Probe reports the tier capacity. A tier with zero total capacity is
	// unavailable.
	Probe() (TierInfo, error)
	// Reserve returns a zeroed region of exactly size bytes.
	Reserve(size int) ([]byte, error)
	// Release returns a region obtained from Reserve.
	Release(buf []byte) error
}

// HeapTier reserves the arena on the Go heap.
type HeapTier struct{}

func (HeapTier) Name() string { return "heap" }

// Probe reports the Go runtime's view of the heap.
func (HeapTier) Probe() (TierInfo, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return TierInfo{Total: ms.Sys, Free: ms.Sys - ms.HeapInuse}, nil
}

func (HeapTier) Reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid reservation size %d", size)
	}
	return make([]byte, size), nil
}

func (HeapTier) Release([]byte) error { return nil }

// TierByName returns the tier called name ("mmap" or "heap").
func TierByName(name string) (Tier, error) {
	switch name {
	case "", "mmap":
		return MmapTier{Lock: true}, nil
	case "heap":
		return HeapTier{}, nil
	default:
		return nil, fmt.Errorf("unknown memory tier %q", name)
	}
}

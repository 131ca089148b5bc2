//go:build linux

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapTier reserves the arena as an anonymous private mapping outside the Go
// heap. With Lock set the pages are pinned so inference never faults to swap;
// a failed lock is logged and the mapping kept.
type MmapTier struct {
	Lock bool
}

func (MmapTier) Name() string { return "mmap" }

// Probe reports system RAM as seen by sysinfo(2).
func (MmapTier) Probe() (TierInfo, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return TierInfo{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	return TierInfo{
		Total: uint64(si.Totalram) * unit,
		Free:  uint64(si.Freeram) * unit,
	}, nil
}

func (t MmapTier) Reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid reservation size %d", size)
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	if t.Lock {
		if err := unix.Mlock(buf); err != nil {
			Logf("arena: mlock %d bytes failed, continuing unpinned: %v", size, err)
		}
	}
	return buf, nil
}

func (t MmapTier) Release(buf []byte) error {
	if buf == nil {
		return nil
	}
	if t.Lock {
		_ = unix.Munlock(buf)
	}
	return unix.Munmap(buf)
}

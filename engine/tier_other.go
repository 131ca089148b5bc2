//go:build !linux

package engine

import "errors"

// MmapTier is only implemented on Linux. Elsewhere it reports zero capacity so
// bootstrap fails with ErrTierUnavailable.
type MmapTier struct {
	Lock bool
}

func (MmapTier) Name() string { return "mmap" }

func (MmapTier) Probe() (TierInfo, error) { return TierInfo{}, nil }

func (MmapTier) Reserve(int) ([]byte, error) {
	return nil, errors.New("mmap tier not supported on this platform")
}

func (MmapTier) Release([]byte) error { return nil }

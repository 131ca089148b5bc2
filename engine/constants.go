package engine

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

const (
	// SchemaVersion is the ONNX IR version this runtime accepts.
	SchemaVersion = 8

	// BaseArenaBytes covers the input, output and score tensors of the
	// default 96x96 model with headroom.
	BaseArenaBytes = 176 * 1024

	// CoprocessorScratchBytes is added to the arena when the CPU exposes a
	// vector unit whose kernels need scratch space.
	CoprocessorScratchBytes = 40 * 1024

	DefaultWidth    = 96
	DefaultHeight   = 96
	DefaultChannels = 3

	DefaultInputName  = "input"
	DefaultOutputName = "output"

	tensorAlign = 16
)

var (
	hasAVX2  = cpu.X86.HasAVX2
	hasASIMD = cpu.ARM64.HasASIMD
)

// ScratchBytes returns the platform scratch addition for the arena.
func ScratchBytes() int {
	switch {
	case hasAVX2 && runtime.GOARCH == "amd64":
		return CoprocessorScratchBytes
	case hasASIMD && runtime.GOARCH == "arm64":
		return CoprocessorScratchBytes
	default:
		return 0
	}
}

// DefaultArenaBytes returns the base tensor budget plus the platform scratch.
func DefaultArenaBytes() int {
	return BaseArenaBytes + ScratchBytes()
}

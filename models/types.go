package models

import (
	"fmt"
	"time"
)

// Decision is the arbitrated outcome of one score vector.
type Decision struct {
	Index    int
	Score    float32
	Detected bool
}

// Category is one row of the label table. Price is optional; an empty price
// means the category has no price annotation.
type Category struct {
	Label string `json:"label"`
	Price string `json:"price,omitempty"`
}

// HasPrice reports whether the category carries a price annotation.
func (c Category) HasPrice() bool {
	return c.Price != ""
}

// LabelTable is the ordered category table shared by the arbitrator and the
// renderer. Background is the index reserved for "nothing recognized".
type LabelTable struct {
	Categories []Category `json:"categories"`
	Background int        `json:"background"`
}

// DefaultLabelTable returns the produce table the default model was trained on.
func DefaultLabelTable() LabelTable {
	return LabelTable{
		Categories: []Category{
			{Label: "Apple", Price: "$1.990/Kg"},
			{Label: "Banana", Price: "$2.490/Kg"},
			{Label: "Lemon", Price: "$1.590/Kg"},
			{Label: "Other"},
		},
		Background: 3,
	}
}

// Len returns the number of categories, background included.
func (t LabelTable) Len() int {
	return len(t.Categories)
}

// At returns the category at index i.
func (t LabelTable) At(i int) (Category, bool) {
	if i < 0 || i >= len(t.Categories) {
		return Category{}, false
	}
	return t.Categories[i], true
}

// Validate checks the table is usable for arbitration.
func (t LabelTable) Validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("label table is empty")
	}
	if t.Background < 0 || t.Background >= len(t.Categories) {
		return fmt.Errorf("background index %d out of range [0,%d)", t.Background, len(t.Categories))
	}
	for i, c := range t.Categories {
		if c.Label == "" {
			return fmt.Errorf("category %d has an empty label", i)
		}
	}
	return nil
}

// CycleTimings records how long each stage of one cycle took.
type CycleTimings struct {
	CycleID string
	Acquire time.Duration
	Infer   time.Duration
	Extract time.Duration
	Respond time.Duration
	Total   time.Duration
}

// Layout is the memory order of an image tensor.
type Layout int

const (
	// NHWC stores channels interleaved per pixel.
	NHWC Layout = iota
	// NCHW stores one plane per channel.
	NCHW
)

// String returns the conventional name of the layout.
func (l Layout) String() string {
	switch l {
	case NCHW:
		return "nchw"
	default:
		return "nhwc"
	}
}

// ParseLayout parses "nhwc" or "nchw".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "nhwc", "NHWC", "":
		return NHWC, nil
	case "nchw", "NCHW":
		return NCHW, nil
	default:
		return NHWC, fmt.Errorf("unknown tensor layout %q", s)
	}
}

// FrameShape describes the fixed input image geometry of the model.
type FrameShape struct {
	Width    int
	Height   int
	Channels int
	Layout   Layout
}

// Elements returns width*height*channels.
func (s FrameShape) Elements() int {
	return s.Width * s.Height * s.Channels
}

// Dims returns the batch-of-one tensor dimensions for the layout.
func (s FrameShape) Dims() []int64 {
	if s.Layout == NCHW {
		return []int64{1, int64(s.Channels), int64(s.Height), int64(s.Width)}
	}
	return []int64{1, int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// Validate checks the dimensions are positive and the channel count is one
// the frame sources can produce.
func (s FrameShape) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}
	if s.Channels != 1 && s.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d: expected 1 or 3", s.Channels)
	}
	return nil
}

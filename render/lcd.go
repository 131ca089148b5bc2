package render

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Tutortoise/produce-detector/models"
)

// Display is a character display addressed by row and column.
type Display interface {
	Clear() error
	SetCursor(row, col int) error
	WriteString(s string) error
	Size() (rows, cols int)
}

var ErrCursorRange = errors.New("cursor outside display")

// LCD rows used by LCDSink.
const (
	rowPrice  = 0
	rowLabel  = 1
	rowWeight = 2
)

// The smallest display that shows every LCDSink row uncut.
const (
	MinLCDRows = rowWeight + 1
	MinLCDCols = len(MsgNoDetection)
)

// CheckLCDGeometry rejects displays too small for the price, label and
// weight rows. A 16x2 module would drop the weight row and cut the
// "no detection" message.
func CheckLCDGeometry(rows, cols int) error {
	if rows < MinLCDRows || cols < MinLCDCols {
		return fmt.Errorf("lcd geometry %dx%d too small, need at least %dx%d", rows, cols, MinLCDRows, MinLCDCols)
	}
	return nil
}

// LCDSink renders decisions on a character display: price on row 0, label on
// row 1, weight on row 2. Rows the display does not have are skipped and text
// is cut at the last column.
type LCDSink struct {
	mu      sync.Mutex
	display Display
}

func NewLCDSink(d Display) *LCDSink {
	return &LCDSink{display: d}
}

func (l *LCDSink) Name() string { return "lcd" }

// Display returns the underlying display.
func (l *LCDSink) Display() Display { return l.display }

func (l *LCDSink) RenderDetected(c models.Category) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.display.Clear(); err != nil {
		return err
	}
	if err := l.put(rowLabel, c.Label); err != nil {
		return err
	}
	if !c.HasPrice() {
		return nil
	}
	if err := l.put(rowPrice, PriceLine(c)); err != nil {
		return err
	}
	return l.put(rowWeight, WeightAnnotation)
}

func (l *LCDSink) RenderNone() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.display.Clear(); err != nil {
		return err
	}
	return l.put(rowLabel, MsgNoDetection)
}

func (l *LCDSink) put(row int, text string) error {
	rows, cols := l.display.Size()
	if row >= rows {
		return nil
	}
	if len(text) > cols {
		text = text[:cols]
	}
	if err := l.display.SetCursor(row, 0); err != nil {
		return err
	}
	return l.display.WriteString(text)
}

// GridDisplay is an in-memory display. It backs the status endpoint and
// development hosts without a panel attached.
type GridDisplay struct {
	mu       sync.Mutex
	rows     int
	cols     int
	cells    [][]byte
	row, col int
}

// NewGridDisplay returns a cleared rows×cols display.
func NewGridDisplay(rows, cols int) *GridDisplay {
	g := &GridDisplay{rows: rows, cols: cols, cells: make([][]byte, rows)}
	for i := range g.cells {
		g.cells[i] = make([]byte, cols)
	}
	g.clear()
	return g
}

func (g *GridDisplay) Size() (int, int) { return g.rows, g.cols }

func (g *GridDisplay) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clear()
	return nil
}

func (g *GridDisplay) clear() {
	for _, r := range g.cells {
		for i := range r {
			r[i] = ' '
		}
	}
	g.row, g.col = 0, 0
}

func (g *GridDisplay) SetCursor(row, col int) error {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return fmt.Errorf("%w: (%d,%d) on %dx%d", ErrCursorRange, row, col, g.rows, g.cols)
	}
	g.mu.Lock()
	g.row, g.col = row, col
	g.mu.Unlock()
	return nil
}

// WriteString writes at the cursor. Characters past the last column are
// dropped.
func (g *GridDisplay) WriteString(s string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < len(s) && g.col < g.cols; i++ {
		g.cells[g.row][g.col] = s[i]
		g.col++
	}
	return nil
}

// Lines returns the display content with trailing blanks trimmed.
func (g *GridDisplay) Lines() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, g.rows)
	for i, r := range g.cells {
		out[i] = strings.TrimRight(string(r), " ")
	}
	return out
}

// MirroredDisplay drives a primary display and copies every successful write
// to a mirror, typically a GridDisplay the status server reads. Size and
// errors come from the primary, so the mirror never shows text the panel
// failed to take.
type MirroredDisplay struct {
	Primary Display
	Mirror  Display
}

func (m MirroredDisplay) Size() (int, int) { return m.Primary.Size() }

func (m MirroredDisplay) Clear() error {
	if err := m.Primary.Clear(); err != nil {
		return err
	}
	_ = m.Mirror.Clear()
	return nil
}

func (m MirroredDisplay) SetCursor(row, col int) error {
	if err := m.Primary.SetCursor(row, col); err != nil {
		return err
	}
	_ = m.Mirror.SetCursor(row, col)
	return nil
}

func (m MirroredDisplay) WriteString(s string) error {
	if err := m.Primary.WriteString(s); err != nil {
		return err
	}
	_ = m.Mirror.WriteString(s)
	return nil
}

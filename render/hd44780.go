package render

import (
	"fmt"
	"sync"
	"time"
)

// HD44780 instruction set.
const (
	lcdClear        = 0x01
	lcdEntryMode    = 0x06 // increment, no shift
	lcdDisplayOn    = 0x0C // display on, cursor off, blink off
	lcdDisplayOff   = 0x08
	lcdFunction4Bit = 0x28 // 4-bit bus, 2 lines, 5x8 font
	lcdSetDDRAM     = 0x80
)

// Transport carries HD44780 instructions and character data to the
// controller.
type Transport interface {
	Command(cmd byte) error
	Data(b []byte) error
	Close() error
}

// nibbleTransport is implemented by transports wired to the controller's
// 4-bit bus. They need the power-on wake sequence before the first command.
type nibbleTransport interface {
	Nibble(n byte) error
}

// HD44780 drives a character LCD through a Transport.
type HD44780 struct {
	mu    sync.Mutex
	t     Transport
	rows  int
	cols  int
	row   int
	col   int
	sleep func(time.Duration)
}

// NewHD44780 initializes the controller behind t for a rows×cols panel.
func NewHD44780(t Transport, rows, cols int) (*HD44780, error) {
	if rows < 1 || rows > 4 || cols < 1 || cols > 40 {
		return nil, fmt.Errorf("unsupported lcd geometry %dx%d", rows, cols)
	}
	d := &HD44780{t: t, rows: rows, cols: cols, sleep: time.Sleep}
	if err := d.init(); err != nil {
		return nil, fmt.Errorf("lcd init: %w", err)
	}
	return d, nil
}

func (d *HD44780) init() error {
	if n, ok := d.t.(nibbleTransport); ok {
		d.sleep(50 * time.Millisecond)
		for _, step := range []struct {
			nibble byte
			wait   time.Duration
		}{
			{0x3, 5 * time.Millisecond},
			{0x3, time.Millisecond},
			{0x3, 10 * time.Millisecond},
			{0x2, 10 * time.Millisecond},
		} {
			if err := n.Nibble(step.nibble); err != nil {
				return err
			}
			d.sleep(step.wait)
		}
	}
	for _, cmd := range []byte{lcdFunction4Bit, lcdDisplayOff, lcdClear, lcdEntryMode, lcdDisplayOn} {
		if err := d.t.Command(cmd); err != nil {
			return err
		}
		d.sleep(2 * time.Millisecond)
	}
	return nil
}

func (d *HD44780) Size() (int, int) { return d.rows, d.cols }

func (d *HD44780) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.t.Command(lcdClear); err != nil {
		return err
	}
	d.sleep(2 * time.Millisecond)
	d.row, d.col = 0, 0
	return nil
}

// DDRAMAddress returns the display memory address of (row, col) on a panel
// with cols columns. Rows 2 and 3 continue rows 0 and 1 in memory.
func DDRAMAddress(row, col, cols int) byte {
	offsets := [4]int{0x00, 0x40, cols, 0x40 + cols}
	return byte(offsets[row] + col)
}

func (d *HD44780) SetCursor(row, col int) error {
	if row < 0 || row >= d.rows || col < 0 || col >= d.cols {
		return fmt.Errorf("%w: (%d,%d) on %dx%d", ErrCursorRange, row, col, d.rows, d.cols)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.t.Command(lcdSetDDRAM | DDRAMAddress(row, col, d.cols)); err != nil {
		return err
	}
	d.row, d.col = row, col
	return nil
}

// WriteString writes s at the cursor, dropping what does not fit on the row.
func (d *HD44780) WriteString(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if room := d.cols - d.col; len(s) > room {
		s = s[:room]
	}
	if len(s) == 0 {
		return nil
	}
	if err := d.t.Data([]byte(s)); err != nil {
		return err
	}
	d.col += len(s)
	return nil
}

// Close releases the transport.
func (d *HD44780) Close() error {
	return d.t.Close()
}

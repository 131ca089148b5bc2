package render

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/produce-detector/models"
)

func TestLCDSink_Detected(t *testing.T) {
	grid := NewGridDisplay(4, 20)
	sink := NewLCDSink(grid)

	require.NoError(t, sink.RenderDetected(models.Category{Label: "Apple", Price: "$1.990/Kg"}))
	want := []string{"price: $1.990/Kg", "Apple", "Weight: 0.3 Kg", ""}
	if diff := cmp.Diff(want, grid.Lines()); diff != "" {
		t.Errorf("lcd mismatch (-want +got):\n%s", diff)
	}
}

func TestLCDSink_NoPrice(t *testing.T) {
	grid := NewGridDisplay(4, 20)
	sink := NewLCDSink(grid)

	require.NoError(t, sink.RenderDetected(models.Category{Label: "Kiwi"}))
	assert.Equal(t, []string{"", "Kiwi", "", ""}, grid.Lines())
}

func TestLCDSink_None(t *testing.T) {
	grid := NewGridDisplay(4, 20)
	sink := NewLCDSink(grid)

	require.NoError(t, sink.RenderDetected(models.Category{Label: "Banana", Price: "$2.490/Kg"}))
	require.NoError(t, sink.RenderNone())
	assert.Equal(t, []string{"", "No fruit detected", "", ""}, grid.Lines())
}

func TestLCDSink_SmallDisplay(t *testing.T) {
	grid := NewGridDisplay(2, 16)
	sink := NewLCDSink(grid)

	require.NoError(t, sink.RenderDetected(models.Category{Label: "Watermelon slices", Price: "$10.990/Kg"}))
	assert.Equal(t, []string{"price: $10.990/K", "Watermelon slice"}, grid.Lines())
}

func TestLCDSink_Idempotent(t *testing.T) {
	grid := NewGridDisplay(4, 20)
	r := newTestRenderer(NewLCDSink(grid))
	table := models.DefaultLabelTable()
	d := models.Decision{Index: 2, Score: 0.7, Detected: true}

	r.Render("c1", d, table, nil)
	first := grid.Lines()
	r.Render("c2", d, table, nil)
	assert.Equal(t, first, grid.Lines())
}

func TestGridDisplay_Cursor(t *testing.T) {
	grid := NewGridDisplay(2, 4)
	assert.ErrorIs(t, grid.SetCursor(2, 0), ErrCursorRange)
	assert.ErrorIs(t, grid.SetCursor(0, 4), ErrCursorRange)

	require.NoError(t, grid.SetCursor(1, 2))
	require.NoError(t, grid.WriteString("xyz"))
	assert.Equal(t, []string{"", "  xy"}, grid.Lines())
}

// busRecorder captures transport writes.
type busRecorder struct {
	bytes.Buffer
	closed bool
	fail   bool
}

func (b *busRecorder) Write(p []byte) (int, error) {
	if b.fail {
		return 0, errors.New("nack")
	}
	return b.Buffer.Write(p)
}

func (b *busRecorder) Close() error {
	b.closed = true
	return nil
}

func TestPCF8574_Framing(t *testing.T) {
	bus := &busRecorder{}
	p := NewPCF8574(bus)

	require.NoError(t, p.Command(0x80))
	assert.Equal(t, []byte{0x8C, 0x88, 0x0C, 0x08}, bus.Bytes())

	bus.Reset()
	require.NoError(t, p.Data([]byte("A")))
	assert.Equal(t, []byte{0x4D, 0x49, 0x1D, 0x19}, bus.Bytes())

	bus.Reset()
	p.SetBacklight(false)
	require.NoError(t, p.Nibble(0x3))
	assert.Equal(t, []byte{0x34, 0x30}, bus.Bytes())

	bus.fail = true
	assert.Error(t, p.Command(0x01))

	require.NoError(t, p.Close())
	assert.True(t, bus.closed)
}

func TestSerLCD_Framing(t *testing.T) {
	bus := &busRecorder{}
	s := NewSerLCD(bus)

	require.NoError(t, s.Command(lcdClear))
	require.NoError(t, s.Data([]byte("Hi")))
	assert.Equal(t, []byte{0xFE, 0x01, 'H', 'i'}, bus.Bytes())
}

// scriptTransport records commands and data as readable strings.
type scriptTransport struct {
	ops    []string
	nibble bool
}

func (s *scriptTransport) Command(cmd byte) error {
	s.ops = append(s.ops, "cmd:"+hexByte(cmd))
	return nil
}

func (s *scriptTransport) Data(b []byte) error {
	s.ops = append(s.ops, "data:"+string(b))
	return nil
}

func (s *scriptTransport) Close() error { return nil }

type nibbleScript struct{ scriptTransport }

func (s *nibbleScript) Nibble(n byte) error {
	s.ops = append(s.ops, "nibble:"+hexByte(n))
	return nil
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0f]})
}

func TestHD44780_Init(t *testing.T) {
	tr := &nibbleScript{}
	_, err := NewHD44780(tr, 4, 20)
	require.NoError(t, err)

	want := []string{
		"nibble:03", "nibble:03", "nibble:03", "nibble:02",
		"cmd:28", "cmd:08", "cmd:01", "cmd:06", "cmd:0c",
	}
	assert.Equal(t, want, tr.ops)
}

func TestHD44780_Render(t *testing.T) {
	tr := &scriptTransport{}
	lcd, err := NewHD44780(tr, 4, 20)
	require.NoError(t, err)
	lcd.sleep = func(time.Duration) {}
	tr.ops = nil

	sink := NewLCDSink(lcd)
	require.NoError(t, sink.RenderDetected(models.Category{Label: "Lemon", Price: "$1.590/Kg"}))

	want := []string{
		"cmd:01",
		"cmd:c0", "data:Lemon",
		"cmd:80", "data:price: $1.590/Kg",
		"cmd:94", "data:Weight: 0.3 Kg",
	}
	assert.Equal(t, want, tr.ops)
}

func TestHD44780_Geometry(t *testing.T) {
	_, err := NewHD44780(&scriptTransport{}, 5, 20)
	assert.Error(t, err)

	lcd, err := NewHD44780(&scriptTransport{}, 2, 16)
	require.NoError(t, err)
	assert.ErrorIs(t, lcd.SetCursor(2, 0), ErrCursorRange)

	assert.Equal(t, byte(0x00), DDRAMAddress(0, 0, 20))
	assert.Equal(t, byte(0x40), DDRAMAddress(1, 0, 20))
	assert.Equal(t, byte(0x14), DDRAMAddress(2, 0, 20))
	assert.Equal(t, byte(0x54), DDRAMAddress(3, 0, 20))
}

func TestMirroredDisplay(t *testing.T) {
	primary := NewGridDisplay(4, 20)
	mirror := NewGridDisplay(4, 20)
	sink := NewLCDSink(MirroredDisplay{Primary: primary, Mirror: mirror})

	require.NoError(t, sink.RenderNone())
	assert.Equal(t, primary.Lines(), mirror.Lines())
	assert.Equal(t, []string{"", "No fruit detected", "", ""}, mirror.Lines())
}

// nackDisplay fails every call once the bus goes away.
type nackDisplay struct {
	*GridDisplay
	down bool
}

func (n *nackDisplay) Clear() error {
	if n.down {
		return errors.New("i2c nack")
	}
	return n.GridDisplay.Clear()
}

func (n *nackDisplay) SetCursor(row, col int) error {
	if n.down {
		return errors.New("i2c nack")
	}
	return n.GridDisplay.SetCursor(row, col)
}

func (n *nackDisplay) WriteString(s string) error {
	if n.down {
		return errors.New("i2c nack")
	}
	return n.GridDisplay.WriteString(s)
}

func TestMirroredDisplay_PrimaryFailureKeepsMirror(t *testing.T) {
	primary := &nackDisplay{GridDisplay: NewGridDisplay(4, 20)}
	mirror := NewGridDisplay(4, 20)
	sink := NewLCDSink(MirroredDisplay{Primary: primary, Mirror: mirror})

	require.NoError(t, sink.RenderDetected(models.DefaultLabelTable().Categories[2]))
	before := mirror.Lines()

	primary.down = true
	assert.ErrorContains(t, sink.RenderNone(), "i2c nack")
	assert.Equal(t, before, mirror.Lines())
	assert.Equal(t, primary.Lines(), mirror.Lines())
}

func TestCheckLCDGeometry(t *testing.T) {
	assert.NoError(t, CheckLCDGeometry(4, 20))
	assert.NoError(t, CheckLCDGeometry(MinLCDRows, MinLCDCols))
	assert.ErrorContains(t, CheckLCDGeometry(2, 16), "lcd geometry 2x16 too small")
	assert.Error(t, CheckLCDGeometry(4, 16))
	assert.Error(t, CheckLCDGeometry(2, 20))

	// The smallest accepted display shows every row uncut.
	grid := NewGridDisplay(MinLCDRows, MinLCDCols)
	require.NoError(t, NewLCDSink(grid).RenderNone())
	assert.Equal(t, MsgNoDetection, grid.Lines()[rowLabel])
}

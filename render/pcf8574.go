package render

import (
	"fmt"
	"io"
)

// PCF8574 backpack pin mapping: P0 RS, P2 EN, P3 backlight, P4-P7 D4-D7.
const (
	pcfRS        = 0x01
	pcfEnable    = 0x04
	pcfBacklight = 0x08
)

// DefaultPCF8574Addr is the usual 7-bit address of the backpack.
const DefaultPCF8574Addr = 0x27

// PCF8574 is the I2C backpack transport. Each byte is sent as two nibbles,
// each strobed with EN high then low.
type PCF8574 struct {
	w         io.WriteCloser
	backlight byte
}

// NewPCF8574 wraps an already addressed I2C device.
func NewPCF8574(w io.WriteCloser) *PCF8574 {
	return &PCF8574{w: w, backlight: pcfBacklight}
}

// SetBacklight switches the backlight bit sent with every transfer.
func (p *PCF8574) SetBacklight(on bool) {
	if on {
		p.backlight = pcfBacklight
		return
	}
	p.backlight = 0
}

// frame builds the four bus writes for one byte.
func (p *PCF8574) frame(b byte, mode byte) []byte {
	hi := b & 0xf0
	lo := (b << 4) & 0xf0
	ctl := mode | p.backlight
	return []byte{hi | ctl | pcfEnable, hi | ctl, lo | ctl | pcfEnable, lo | ctl}
}

func (p *PCF8574) Command(cmd byte) error {
	return p.write(p.frame(cmd, 0))
}

func (p *PCF8574) Data(b []byte) error {
	buf := make([]byte, 0, len(b)*4)
	for _, c := range b {
		buf = append(buf, p.frame(c, pcfRS)...)
	}
	return p.write(buf)
}

// Nibble sends the upper half of the bus only, for the 4-bit wake sequence.
func (p *PCF8574) Nibble(n byte) error {
	v := (n << 4) | p.backlight
	return p.write([]byte{v | pcfEnable, v})
}

func (p *PCF8574) write(buf []byte) error {
	if _, err := p.w.Write(buf); err != nil {
		return fmt.Errorf("i2c write: %w", err)
	}
	return nil
}

func (p *PCF8574) Close() error {
	return p.w.Close()
}

package render

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// serLCDCommand prefixes an HD44780 instruction on SerLCD-style UART
// backpacks. Character data is sent as is.
const serLCDCommand = 0xFE

// SerLCD is the UART backpack transport.
type SerLCD struct {
	w io.WriteCloser
}

func NewSerLCD(w io.WriteCloser) *SerLCD {
	return &SerLCD{w: w}
}

// OpenSerLCD opens the serial port at path, 8N1.
func OpenSerLCD(path string, baud int) (*SerLCD, error) {
	if baud <= 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial lcd %s: %w", path, err)
	}
	return NewSerLCD(port), nil
}

func (s *SerLCD) Command(cmd byte) error {
	return s.write([]byte{serLCDCommand, cmd})
}

func (s *SerLCD) Data(b []byte) error {
	return s.write(b)
}

func (s *SerLCD) write(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("serial lcd write: %w", err)
	}
	return nil
}

func (s *SerLCD) Close() error {
	return s.w.Close()
}

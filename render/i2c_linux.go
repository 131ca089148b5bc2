//go:build linux

package render

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// i2cSlave is the I2C_SLAVE ioctl from linux/i2c-dev.h.
const i2cSlave = 0x0703

// OpenPCF8574 opens the I2C character device (e.g. /dev/i2c-1) and addresses
// the backpack at addr.
func OpenPCF8574(dev string, addr int) (*PCF8574, error) {
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dev, err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, addr); err != nil {
		f.Close()
		return nil, fmt.Errorf("address 0x%02x on %s: %w", addr, dev, err)
	}
	return NewPCF8574(f), nil
}

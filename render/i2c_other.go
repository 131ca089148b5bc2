//go:build !linux

package render

import "errors"

func OpenPCF8574(dev string, addr int) (*PCF8574, error) {
	return nil, errors.New("i2c lcd is only supported on linux")
}

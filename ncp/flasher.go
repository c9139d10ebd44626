package ncp

import (
	"context"

	"i4.energy/across/lorancp/gpio"
	"i4.energy/across/lorancp/stm32"
)

// Flasher reprograms the module through its bootloader. *stm32.Loader
// implements it.
//
//go:generate go tool mockgen -source=flasher.go -destination=mock_flasher.go -package=ncp
type Flasher interface {
	Flash(ctx context.Context, image []byte, boot, reset gpio.Pin, flags stm32.Flags) error
}

var _ Flasher = (*stm32.Loader)(nil)

// Package gpio drives the control lines of the NCP: boot mode select, reset
// and the optional bus select of the UART multiplexer.
package gpio

import "fmt"

// Mode is the direction of a pin.
type Mode int

const (
	Input Mode = iota
	Output
)

func (m Mode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Level is the logic level driven on an output pin.
type Level int

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Invert returns the opposite level.
func (l Level) Invert() Level {
	if l == High {
		return Low
	}
	return High
}

// Pin addresses a line as bank and pin number within the bank.
type Pin struct {
	Bank int
	Num  int
}

func (p Pin) String() string {
	return fmt.Sprintf("%d:%d", p.Bank, p.Num)
}

// Controller sets direction and level of pins.
//
//go:generate go tool mockgen -source=gpio.go -destination=mock_gpio.go -package=gpio
type Controller interface {
	SetPinMode(p Pin, mode Mode) error
	WritePinValue(p Pin, level Level) error
}

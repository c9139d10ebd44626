package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphController maps bank/pin addresses onto host GPIO lines resolved
// through the periph.io registry.
type PeriphController struct {
	mu    sync.Mutex
	lines map[Pin]pgpio.PinIO
	// levels remembers the last written level so switching a pin back to
	// output does not glitch it.
	levels map[Pin]Level
}

// NewPeriphController initializes the periph.io host drivers and resolves
// every line name, for example "GPIO17".
func NewPeriphController(names map[Pin]string) (*PeriphController, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: initialize periph.io host: %w", err)
	}

	c := &PeriphController{
		lines:  make(map[Pin]pgpio.PinIO, len(names)),
		levels: make(map[Pin]Level, len(names)),
	}
	for pin, name := range names {
		line := gpioreg.ByName(name)
		if line == nil {
			return nil, fmt.Errorf("gpio: line %q for pin %s not found", name, pin)
		}
		c.lines[pin] = line
	}
	return c, nil
}

func (c *PeriphController) SetPinMode(p Pin, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.line(p)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		err = line.In(pgpio.PullNoChange, pgpio.NoEdge)
	case Output:
		err = line.Out(toPeriph(c.levels[p]))
	default:
		return fmt.Errorf("gpio: invalid mode %d for pin %s", mode, p)
	}
	if err != nil {
		return fmt.Errorf("gpio: set pin %s to %s: %w", p, mode, err)
	}
	return nil
}

func (c *PeriphController) WritePinValue(p Pin, level Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.line(p)
	if err != nil {
		return err
	}
	if err := line.Out(toPeriph(level)); err != nil {
		return fmt.Errorf("gpio: drive pin %s %s: %w", p, level, err)
	}
	c.levels[p] = level
	return nil
}

func (c *PeriphController) line(p Pin) (pgpio.PinIO, error) {
	line, ok := c.lines[p]
	if !ok {
		return nil, fmt.Errorf("gpio: pin %s is not mapped to a host line", p)
	}
	return line, nil
}

func toPeriph(l Level) pgpio.Level {
	if l == High {
		return pgpio.High
	}
	return pgpio.Low
}

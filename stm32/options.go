package stm32

import (
	"log/slog"
	"time"

	"go.bug.st/serial"

	"i4.energy/across/lorancp/at"
)

// Progress reports how far the image has been written or verified.
type Progress struct {
	// Phase is one of "erasing", "writing", "verifying" or "complete".
	Phase string
	Done  int
	Total int
}

// ProgressCallback receives progress updates from Flash. It is called on
// the flashing control flow and should return quickly.
type ProgressCallback func(Progress)

// Config holds the loader configuration.
type Config struct {
	// BaudRate of the bootloader session. The line runs 8E1.
	BaudRate int
	// FlashBase is where the image is written and where execution starts.
	FlashBase uint32
	// AckTimeout bounds the wait for every ACK except the one after erase.
	AckTimeout time.Duration
	// EraseTimeout bounds the wait for the mass erase to complete.
	EraseTimeout time.Duration
	// RestoreMode is applied to the port on every exit path.
	RestoreMode *serial.Mode

	Logger *slog.Logger
	// Clock measures the ACK and erase timeouts.
	Clock    at.Clock
	Sleep    func(time.Duration)
	Progress ProgressCallback
}

func defaultConfig() Config {
	return Config{
		BaudRate:     115200,
		FlashBase:    DefaultFlashBase,
		AckTimeout:   time.Second,
		EraseTimeout: 30 * time.Second,
		RestoreMode: &serial.Mode{
			BaudRate: 9600,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		Logger: slog.New(slog.DiscardHandler),
		Clock:  at.SystemClock{},
		Sleep:  time.Sleep,
	}
}

// Option is a functional option for configuring the Loader.
type Option func(*Config)

// WithBaudRate sets the bootloader baud rate.
func WithBaudRate(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.BaudRate = baud
		}
	}
}

// WithFlashBase sets the flash start address.
func WithFlashBase(addr uint32) Option {
	return func(c *Config) {
		c.FlashBase = addr
	}
}

// WithAckTimeout sets the per-frame ACK timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AckTimeout = d
		}
	}
}

// WithEraseTimeout sets the mass erase timeout.
func WithEraseTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.EraseTimeout = d
		}
	}
}

// WithRestoreMode sets the port settings applied when Flash returns, which
// are normally those of the AT session.
func WithRestoreMode(m *serial.Mode) Option {
	return func(c *Config) {
		if m != nil {
			c.RestoreMode = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithClock sets the time source for response timeouts. Sleep has to move
// it forward.
func WithClock(c at.Clock) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.Clock = c
		}
	}
}

// WithSleep replaces time.Sleep for pin dwell times and response polling.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Config) {
		if fn != nil {
			c.Sleep = fn
		}
	}
}

// WithProgress sets a progress callback.
//
// Example:
//
//	l := stm32.New(port, pins, stm32.WithProgress(func(p stm32.Progress) {
//	    fmt.Printf("%s %d/%d\n", p.Phase, p.Done, p.Total)
//	}))
func WithProgress(fn ProgressCallback) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

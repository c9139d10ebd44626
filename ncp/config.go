package ncp

import (
	"log/slog"
	"time"

	"go.bug.st/serial"

	"i4.energy/across/lorancp/at"
	"i4.energy/across/lorancp/firmware"
	"i4.energy/across/lorancp/gpio"
	"i4.energy/across/lorancp/stm32"
)

// Config holds the Driver settings. Zero values are replaced by defaults,
// except for FlashFlags and the radio settings where zero is a valid choice.
// NewConfigBuilder presets those.
type Config struct {
	Dialer Dialer
	GPIO   gpio.Controller
	// Flasher defaults to an stm32.Loader on the driver's transport.
	Flasher  Flasher
	Firmware firmware.Provider
	Session  Session
	Logger   *slog.Logger
	Clock    at.Clock
	// Yield is called on every iteration of a wait loop.
	Yield func()

	BootPin      gpio.Pin
	ResetPin     gpio.Pin
	BusSelectPin *gpio.Pin
	FlashFlags   stm32.Flags
	// ATMode is restored on the transport after flashing.
	ATMode *serial.Mode

	ATTimeout       time.Duration
	QueryTimeout    time.Duration
	LivenessTimeout time.Duration
	LivenessPeriod  time.Duration
	ResetDwell      time.Duration
	BootDrain       time.Duration
	JoinWindow      time.Duration

	OutputPower int
	Band        int
	DataRate    int
	Class       string
	ModelPrefix string
	RxPort      int
	MaxPayload  int
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.GPIO == nil {
		return ErrNoGPIO
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Session == nil {
		c.Session = NopSession{}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = at.SystemClock{}
	}
	if c.Yield == nil {
		c.Yield = func() { time.Sleep(time.Millisecond) }
	}
	if c.ATMode == nil {
		c.ATMode = DefaultMode()
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 2 * time.Second
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = time.Second
	}
	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = 10 * time.Second
	}
	if c.LivenessPeriod == 0 {
		c.LivenessPeriod = time.Second
	}
	if c.ResetDwell == 0 {
		c.ResetDwell = 500 * time.Millisecond
	}
	if c.BootDrain == 0 {
		c.BootDrain = 2 * time.Second
	}
	if c.JoinWindow == 0 {
		c.JoinWindow = 10 * time.Second
	}
	if c.Class == "" {
		c.Class = "C"
	}
	if c.ModelPrefix == "" {
		c.ModelPrefix = "KG200Z"
	}
	if c.RxPort == 0 {
		c.RxPort = 223
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = 242
	}
}

// ConfigBuilder assembles a Config.
//
//	config, err := ncp.NewConfigBuilder().
//		WithDialer(ncp.SerialDialer{PortName: "/dev/ttyS1"}).
//		WithGPIO(pins).
//		WithPins(boot, reset).
//		Build()
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{
		FlashFlags:  stm32.BootNonInverted,
		OutputPower: 3,
		Band:        8,
		DataRate:    3,
	}}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithGPIO(c gpio.Controller) *ConfigBuilder {
	b.config.GPIO = c
	return b
}

// WithPins sets the boot select and reset lines.
func (b *ConfigBuilder) WithPins(boot, reset gpio.Pin) *ConfigBuilder {
	b.config.BootPin = boot
	b.config.ResetPin = reset
	return b
}

// WithBusSelect sets the line that routes the UART to the module. It is
// driven low by Begin.
func (b *ConfigBuilder) WithBusSelect(p gpio.Pin) *ConfigBuilder {
	b.config.BusSelectPin = &p
	return b
}

func (b *ConfigBuilder) WithFlasher(f Flasher) *ConfigBuilder {
	b.config.Flasher = f
	return b
}

func (b *ConfigBuilder) WithFlashFlags(flags stm32.Flags) *ConfigBuilder {
	b.config.FlashFlags = flags
	return b
}

func (b *ConfigBuilder) WithFirmware(p firmware.Provider) *ConfigBuilder {
	b.config.Firmware = p
	return b
}

func (b *ConfigBuilder) WithSession(s Session) *ConfigBuilder {
	b.config.Session = s
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// WithClock sets the time source and the hook called while waiting.
func (b *ConfigBuilder) WithClock(c at.Clock, yield func()) *ConfigBuilder {
	b.config.Clock = c
	b.config.Yield = yield
	return b
}

func (b *ConfigBuilder) WithATMode(m *serial.Mode) *ConfigBuilder {
	b.config.ATMode = m
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithJoinWindow(d time.Duration) *ConfigBuilder {
	b.config.JoinWindow = d
	return b
}

// WithRadio sets output power, region band and the fixed data rate.
func (b *ConfigBuilder) WithRadio(power, band, dataRate int) *ConfigBuilder {
	b.config.OutputPower = power
	b.config.Band = band
	b.config.DataRate = dataRate
	return b
}

func (b *ConfigBuilder) WithClass(class string) *ConfigBuilder {
	b.config.Class = class
	return b
}

func (b *ConfigBuilder) WithModelPrefix(prefix string) *ConfigBuilder {
	b.config.ModelPrefix = prefix
	return b
}

func (b *ConfigBuilder) WithMaxPayload(n int) *ConfigBuilder {
	b.config.MaxPayload = n
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"i4.energy/across/lorancp/gpio"
)

// PinConfig addresses a GPIO line by bank and pin number and names the host
// line that backs it (e.g. "GPIO17").
type PinConfig struct {
	Bank int    `yaml:"bank"`
	Num  int    `yaml:"num"`
	Line string `yaml:"line"`
}

func (p PinConfig) Pin() gpio.Pin {
	return gpio.Pin{Bank: p.Bank, Num: p.Num}
}

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the local HTTP server listens on
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the serial port the NCP is attached to
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate of the AT session
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	// KeyStore is the file holding the join credentials record
	KeyStore string `yaml:"key_store"`
	// KeyOffset is the record offset inside KeyStore; 0 selects the default
	KeyOffset int64 `yaml:"key_offset"`
	// FirmwareDir holds the NCP firmware images; empty disables updates
	FirmwareDir string `yaml:"firmware_dir"`

	// DevEUI overrides the EUI derived from the MAC address of Interface
	DevEUI    string `yaml:"dev_eui"`
	Interface string `yaml:"interface"`

	BootPin      PinConfig  `yaml:"boot_pin"`
	ResetPin     PinConfig  `yaml:"reset_pin"`
	BusSelectPin *PinConfig `yaml:"bus_select_pin"`
	// AuxPowerPin switches the auxiliary 3V3 rail and is driven high at start
	AuxPowerPin *PinConfig `yaml:"aux_power_pin"`
	// FlashFlags describes the boot/reset wiring, see stm32.Flags
	FlashFlags uint32 `yaml:"flash_flags"`

	// HeartbeatInterval enables a periodic uplink on HeartbeatPort once joined
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatPort     int           `yaml:"heartbeat_port"`
	// QueueSize bounds the uplinks waiting to be sent
	QueueSize int `yaml:"queue_size"`
	// PollInterval is the period of the Process loop
	PollInterval time.Duration `yaml:"poll_interval"`
	// FlashRetryDelay is waited before exiting after a failed reflash
	FlashRetryDelay time.Duration `yaml:"flash_retry_delay"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "127.0.0.1:8080"
		c.SerialPort = "/dev/ttyS1"
		c.BaudRate = 9600
		c.LogLevel = "info"
		c.KeyStore = "/var/lib/lorancp/keys.bin"
		c.Interface = "eth0"
		c.BootPin = PinConfig{Bank: 0, Num: 4, Line: "GPIO4"}
		c.ResetPin = PinConfig{Bank: 0, Num: 5, Line: "GPIO5"}
		c.FlashFlags = 2
		c.HeartbeatInterval = 20 * time.Second
		c.HeartbeatPort = 123
		c.QueueSize = 16
		c.PollInterval = 10 * time.Millisecond
		c.FlashRetryDelay = 10 * time.Second
		return nil
	}
}

// WithFile overlays the YAML file at path. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if path := os.Getenv("KEY_STORE"); path != "" {
			c.KeyStore = path
		}

		if dir := os.Getenv("FIRMWARE_DIR"); dir != "" {
			c.FirmwareDir = dir
		}

		if eui := os.Getenv("DEV_EUI"); eui != "" {
			c.DevEUI = eui
		}

		if iface := os.Getenv("NCP_INTERFACE"); iface != "" {
			c.Interface = iface
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, convErr := strconv.Atoi(f.Value.String()); convErr == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "key-store":
				c.KeyStore = f.Value.String()
			case "firmware-dir":
				c.FirmwareDir = f.Value.String()
			case "dev-eui":
				c.DevEUI = f.Value.String()
			case "interface":
				c.Interface = f.Value.String()
			case "heartbeat":
				d, parseErr := time.ParseDuration(f.Value.String())
				if parseErr != nil {
					err = fmt.Errorf("invalid -heartbeat: %w", parseErr)
					return
				}
				c.HeartbeatInterval = d
			}
		})
		return err
	}
}

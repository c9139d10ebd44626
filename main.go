package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brocaar/lorawan"

	"i4.energy/across/lorancp/at"
	"i4.energy/across/lorancp/firmware"
	"i4.energy/across/lorancp/gpio"
	"i4.energy/across/lorancp/keystore"
	"i4.energy/across/lorancp/ncp"
	"i4.energy/across/lorancp/stm32"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "keys":
			os.Exit(runKeys(args[1:]))
		case "run":
			args = args[1:]
		}
	}
	os.Exit(run(args))
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	fs.String("serial-port", "/dev/ttyS1", "Serial port the NCP is attached to")
	fs.Int("baud-rate", 9600, "Baud rate of the AT session")
	fs.String("bind-address", "127.0.0.1:8080", "Bind address for the HTTP server")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("key-store", "", "File holding the join credentials")
	fs.String("firmware-dir", "", "Directory with NCP firmware images")
	fs.String("dev-eui", "", "DevEUI, overrides the one derived from the interface MAC")
	fs.String("interface", "eth0", "Network interface whose MAC yields the DevEUI")
	fs.Duration("heartbeat", 20*time.Second, "Heartbeat uplink interval, 0 disables")
	fs.Parse(args)

	config, err := LoadConfig(WithDefaults(), WithFile(*configPath), WithEnv(), WithFlags(fs))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	logger := newLogger(config.LogLevel)

	identity, err := loadIdentity(config)
	if err != nil {
		logger.Error("Failed to load identity", "error", err)
		return 1
	}

	pins, err := newPins(config)
	if err != nil {
		logger.Error("Failed to initialize GPIO", "error", err)
		return 1
	}
	if aux := config.AuxPowerPin; aux != nil {
		if err := pins.SetPinMode(aux.Pin(), gpio.Output); err != nil {
			logger.Error("Failed to enable auxiliary power", "error", err)
			return 1
		}
		if err := pins.WritePinValue(aux.Pin(), gpio.High); err != nil {
			logger.Error("Failed to enable auxiliary power", "error", err)
			return 1
		}
	}

	uplinks := NewUplinkQueue(logger.With("component", "session"), config.QueueSize, config.HeartbeatInterval, config.HeartbeatPort)

	builder := ncp.NewConfigBuilder().
		WithDialer(ncp.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithGPIO(pins).
		WithPins(config.BootPin.Pin(), config.ResetPin.Pin()).
		WithFlashFlags(stm32.Flags(config.FlashFlags)).
		WithSession(uplinks).
		WithLogger(logger)
	if sel := config.BusSelectPin; sel != nil {
		builder = builder.WithBusSelect(sel.Pin())
	}
	if config.FirmwareDir != "" {
		builder = builder.WithFirmware(firmware.DirProvider{Dir: config.FirmwareDir})
	}
	ncpConfig, err := builder.Build()
	if err != nil {
		logger.Error("Failed to create NCP config", "error", err)
		return 1
	}

	driver, err := ncp.New(ncpConfig)
	if err != nil {
		logger.Error("Failed to create NCP driver", "error", err)
		return 1
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Error("Failed to close NCP driver", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting LoRaWAN NCP manager", "devEui", identity.DevEUI.String(), "serialPort", config.SerialPort)

	if err := driver.Begin(ctx, identity); err != nil {
		logger.Error("NCP did not come up, reflashing", "error", err, "code", ncp.Code(err))
		recoverModule(ctx, logger, driver, config.FlashRetryDelay)
		return 1
	}

	if err := driver.UpdateFirmware(ctx, false); err != nil {
		if errors.Is(err, ncp.ErrRestartRequired) {
			logger.Info("Firmware updated, restarting", "result", err)
			return 1
		}
		logger.Warn("Firmware update check failed", "error", err)
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:     logger.With("component", "server"),
			Uplinks:    uplinks,
			DevEUI:     identity.DevEUI.String(),
			MaxPayload: ncpConfig.MaxPayload,
		},
	}

	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	code := 0
	if err := driver.Join(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("Failed to join network", "error", err, "code", ncp.Code(err))
			code = 1
		}
	} else if err := loop(ctx, driver, config.PollInterval); err != nil {
		logger.Error("NCP failed", "error", err, "code", ncp.Code(err))
		code = 1
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		code = 1
	}
	return code
}

// loop drives the NCP until ctx ends. Only transport failures stop it.
func loop(ctx context.Context, driver *ncp.Driver, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := driver.Process(); err != nil && at.IsTransport(err) {
				return err
			}
		}
	}
}

// recoverModule force-flashes the NCP after a failed bring-up. The caller
// exits afterwards so that the supervisor restarts the process.
func recoverModule(ctx context.Context, logger *slog.Logger, driver *ncp.Driver, retryDelay time.Duration) {
	err := driver.UpdateFirmware(ctx, true)
	switch {
	case err == nil:
		logger.Warn("No firmware image available for recovery")
	case errors.Is(err, ncp.ErrFlashed):
		logger.Info("Module reflashed", "result", err)
	default:
		logger.Error("Reflash failed", "error", err, "code", ncp.Code(err))
		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
		}
	}
}

func loadIdentity(config *Config) (ncp.Identity, error) {
	store := keystore.FileStore{Path: config.KeyStore, Offset: config.KeyOffset}
	creds, err := store.Load()
	if err != nil {
		return ncp.Identity{}, err
	}
	if creds.IsZero() {
		return ncp.Identity{}, keystore.ErrNotProvisioned
	}

	id := ncp.Identity{JoinEUI: creds.JoinEUI, AppKey: creds.AppKey}
	if config.DevEUI != "" {
		var eui lorawan.EUI64
		if err := eui.UnmarshalText([]byte(config.DevEUI)); err != nil {
			return ncp.Identity{}, fmt.Errorf("invalid DevEUI %q: %w", config.DevEUI, err)
		}
		id.DevEUI = eui
		return id, nil
	}

	iface, err := net.InterfaceByName(config.Interface)
	if err != nil {
		return ncp.Identity{}, fmt.Errorf("read MAC address: %w", err)
	}
	if id.DevEUI, err = ncp.DevEUIFromMAC(iface.HardwareAddr); err != nil {
		return ncp.Identity{}, err
	}
	return id, nil
}

func newPins(config *Config) (*gpio.PeriphController, error) {
	lines := map[gpio.Pin]string{
		config.BootPin.Pin():  config.BootPin.Line,
		config.ResetPin.Pin(): config.ResetPin.Line,
	}
	for _, p := range []*PinConfig{config.BusSelectPin, config.AuxPowerPin} {
		if p != nil {
			lines[p.Pin()] = p.Line
		}
	}
	return gpio.NewPeriphController(lines)
}

// runKeys validates the join credentials and writes them to the key store.
func runKeys(args []string) int {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	path := fs.String("key-store", "/var/lib/lorancp/keys.bin", "File holding the join credentials")
	offset := fs.Int64("offset", keystore.DefaultOffset, "Record offset inside the key store")
	joinEUI := fs.String("join-eui", "", "JoinEUI, 16 hex characters, colons allowed")
	appKey := fs.String("app-key", "", "AppKey, 32 hex characters, colons allowed")
	fs.Parse(args)

	logger := newLogger("info")

	creds, err := keystore.ParseCredentials(*joinEUI, *appKey)
	if err != nil {
		logger.Error("Invalid credentials", "error", err)
		return 2
	}

	store := keystore.FileStore{Path: *path, Offset: *offset}
	if err := store.Save(creds); err != nil {
		logger.Error("Failed to write credentials", "error", err)
		return 1
	}

	logger.Info("Credentials written", "path", *path, "offset", *offset, "joinEui", creds.JoinEUI.String())
	return 0
}

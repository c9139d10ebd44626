package ncp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/lorancp/at"
	"i4.energy/across/lorancp/firmware"
	"i4.energy/across/lorancp/gpio"
	"i4.energy/across/lorancp/stm32"
)

// Driver manages a LoRaWAN network co-processor over its AT command
// interface: bring-up, provisioning, joining, uplinks, downlinks and
// firmware recovery.
//
// A Driver is not safe for concurrent use. The host calls Process
// periodically from the same control flow that calls every other method;
// the Session is called back from that flow too.
type Driver struct {
	config Config
	logger *slog.Logger

	// transport is dialed by Begin, or by UpdateFirmware if Begin never ran
	transport Transport
	// parser is nil until Begin dialed the transport
	parser *at.Parser

	joinState JoinState
	// downlinks wait here until Process hands them to the session
	downlinks [][]byte
	// sessionReady is set once Session.Init succeeded
	sessionReady bool
	// flashed is set by the first flash attempt; the driver is unusable after it
	flashed bool
	closed  bool
}

// New creates a Driver. Nothing is dialed until Begin.
func New(config Config) (*Driver, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	return &Driver{
		config: config,
		logger: config.Logger.With("component", "ncp"),
	}, nil
}

// Begin dials the module, restarts it into its application, waits until it
// answers and provisions the radio settings and the identity. Any failure
// aborts Begin with that error; the host usually reacts by forcing a
// firmware update.
func (d *Driver) Begin(ctx context.Context, id Identity) error {
	if d.closed || d.flashed || d.parser != nil {
		return ErrInvalidState
	}

	if err := d.dial(ctx); err != nil {
		return err
	}
	d.parser = at.NewParser(d.transport,
		at.WithClock(d.config.Clock),
		at.WithYield(d.config.Yield),
		at.WithLogger(d.config.Logger.With("component", "at")),
	)
	if err := d.registerURCs(); err != nil {
		return err
	}

	if err := d.restart(ctx); err != nil {
		return fmt.Errorf("restart module: %w", err)
	}
	if err := d.waitAlive(ctx); err != nil {
		return err
	}

	if err := d.config.Session.Init(d.Tx); err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	d.sessionReady = true

	status, err := d.Status()
	if err != nil {
		return err
	}
	if status == 1 {
		d.logger.Info("module reports an active network session, disconnecting")
		if err := d.Disconnect(); err != nil {
			return err
		}
	}

	return d.provision(id)
}

func (d *Driver) dial(ctx context.Context) error {
	if d.transport != nil {
		return nil
	}
	t, err := d.config.Dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", at.ErrTransport, err)
	}
	if t == nil {
		return fmt.Errorf("%w: dialer returned no transport", ErrInvalidState)
	}
	d.transport = t
	return nil
}

func (d *Driver) registerURCs() error {
	handlers := []struct {
		prefix string
		fn     at.URCHandler
	}{
		{"+QEVT:JOINED", func(string) error {
			d.logger.Info("network joined")
			d.joinState = JoinJoined
			return nil
		}},
		{"+QEVT:JOIN FAILED", func(string) error {
			d.logger.Warn("network join failed")
			d.joinState = JoinFailed
			return nil
		}},
		{fmt.Sprintf("+QEVT:%d:", d.config.RxPort), d.receive},
	}
	for _, h := range handlers {
		if err := d.parser.AddURCHandler(h.prefix, h.fn); err != nil {
			return fmt.Errorf("register %q: %w", h.prefix, err)
		}
	}
	return nil
}

// restart selects the application boot mode and pulses reset.
func (d *Driver) restart(ctx context.Context) error {
	pins := d.config.GPIO
	flags := d.config.FlashFlags

	if sel := d.config.BusSelectPin; sel != nil {
		if err := d.drive(*sel, gpio.Low); err != nil {
			return err
		}
	}
	if err := d.drive(d.config.BootPin, flags.BootActive().Invert()); err != nil {
		return err
	}
	if err := d.drive(d.config.ResetPin, flags.ResetActive()); err != nil {
		return err
	}
	if err := d.pump(ctx, d.config.ResetDwell, nil); err != nil {
		return err
	}
	if err := pins.WritePinValue(d.config.ResetPin, flags.ResetActive().Invert()); err != nil {
		return err
	}
	// the module prints its banner while booting
	return d.pump(ctx, d.config.BootDrain, nil)
}

func (d *Driver) drive(p gpio.Pin, level gpio.Level) error {
	if err := d.config.GPIO.SetPinMode(p, gpio.Output); err != nil {
		return fmt.Errorf("pin %s: %w", p, err)
	}
	if err := d.config.GPIO.WritePinValue(p, level); err != nil {
		return fmt.Errorf("pin %s: %w", p, err)
	}
	return nil
}

// waitAlive polls ATQ once per liveness period until the module answers OK.
func (d *Driver) waitAlive(ctx context.Context) error {
	clock := d.config.Clock
	deadline := clock.Now().Add(d.config.LivenessTimeout)

	var last error
	for clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt := clock.Now()
		err := d.parser.ExecCommand(d.config.LivenessPeriod, "ATQ")
		if err == nil {
			return nil
		}
		if at.IsTransport(err) {
			return fmt.Errorf("liveness check: %w", err)
		}
		last = err
		d.logger.Debug("module not ready", "error", err)

		rest := d.config.LivenessPeriod - clock.Now().Sub(attempt)
		if err := d.pump(ctx, rest, nil); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: module did not answer within %s (last: %v)", at.ErrTimeout, d.config.LivenessTimeout, last)
}

func (d *Driver) provision(id Identity) error {
	steps := []struct {
		format string
		arg    any
	}{
		{"AT+QVL=%d", d.config.OutputPower},
		{"AT+QBAND=%d", d.config.Band},
		{"AT+QADR=%d", 0},
		{"AT+QDR=%d", d.config.DataRate},
		{"AT+QAPPEUI=%s", colonHex(id.JoinEUI[:])},
		{"AT+QDEUI=%s", colonHex(id.DevEUI[:])},
		{"AT+QAPPKEY=%s", colonHex(id.AppKey[:])},
		{"AT+QNWKKEY=%s", colonHex(id.AppKey[:])},
	}
	for _, s := range steps {
		if err := d.parser.ExecCommand(d.config.ATTimeout, s.format, s.arg); err != nil {
			cmd, _, _ := strings.Cut(s.format, "=")
			return fmt.Errorf("provision %s: %w", cmd, err)
		}
	}
	d.logger.Info("module provisioned", "devEUI", id.DevEUI.String(), "joinEUI", id.JoinEUI.String())
	return nil
}

// pump keeps the URC and session machinery running for dur, or until
// until reports true.
func (d *Driver) pump(ctx context.Context, dur time.Duration, until func() bool) error {
	deadline := d.config.Clock.Now().Add(dur)
	for d.config.Clock.Now().Before(deadline) {
		if until != nil && until() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Process(); err != nil {
			return err
		}
		d.config.Yield()
	}
	return nil
}

// Process dispatches pending unsolicited lines and runs the session. It
// never waits for data. Only transport failures are returned.
func (d *Driver) Process() error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.parser.ProcessURC(); err != nil {
		if at.IsTransport(err) {
			return err
		}
		d.logger.Warn("processing unsolicited lines", "error", err)
	}
	if !d.sessionReady {
		return nil
	}
	d.deliver()
	if err := d.config.Session.Run(); err != nil {
		d.logger.Warn("session run failed", "error", err)
	}
	return nil
}

func (d *Driver) ready() error {
	if d.closed || d.flashed || d.parser == nil {
		return ErrInvalidState
	}
	return nil
}

// Status returns the network session status reported by AT+QSTATUS.
// 1 means a session is active.
func (d *Driver) Status() (int, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	resp := d.parser.SendCommand(d.config.QueryTimeout, "AT+QSTATUS=?")
	status, found := 0, false
	for line := range resp.Lines() {
		if _, err := fmt.Sscanf(line, "QSTATUS: %d", &status); err == nil {
			found = true
		}
	}
	if err := resp.Err(); err != nil {
		return 0, fmt.Errorf("query status: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("%w: no QSTATUS line", at.ErrResponseUnexpected)
	}
	return status, nil
}

// FirmwareVersion returns the module firmware version up to the first '.'.
func (d *Driver) FirmwareVersion() (string, error) {
	if err := d.ready(); err != nil {
		return "", err
	}
	resp := d.parser.SendCommand(d.config.QueryTimeout, "AT+QVER=?")
	version, found := "", false
	for line := range resp.Lines() {
		if v, ok := strings.CutPrefix(line, "Version Information: "); ok {
			version, found = firmware.Truncate(strings.TrimSpace(v)), true
		}
	}
	if err := resp.Err(); err != nil {
		return "", fmt.Errorf("query version: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: no version line", at.ErrResponseUnexpected)
	}
	return version, nil
}

// Join requests OTAA joins until the module reports JOINED, then switches
// to the configured device class and data rate and connects the session.
//
// A JOIN FAILED event ends the current window early and the request is
// issued again right away. Only transport failures or ctx end the loop.
func (d *Driver) Join(ctx context.Context) error {
	if err := d.ready(); err != nil {
		return err
	}

	settled := func() bool {
		return d.joinState == JoinJoined || d.joinState == JoinFailed
	}
	for attempt := 1; d.joinState != JoinJoined; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.joinState = JoinJoining
		d.logger.Info("joining network", "attempt", attempt)

		if err := d.parser.ExecCommand(d.config.QueryTimeout, "AT+QJOIN=1"); err != nil {
			if at.IsTransport(err) {
				return fmt.Errorf("join: %w", err)
			}
			d.logger.Warn("join request not accepted", "error", err)
		}
		if err := d.pump(ctx, d.config.JoinWindow, settled); err != nil {
			return err
		}
		// persists the DevNonce
		if err := d.parser.ExecCommand(d.config.ATTimeout, "AT+QCS"); err != nil {
			return fmt.Errorf("save context: %w", err)
		}
	}

	if err := d.parser.ExecCommand(d.config.ATTimeout, "AT+QCLASS=%s", d.config.Class); err != nil {
		return fmt.Errorf("set class: %w", err)
	}
	if err := d.parser.ExecCommand(d.config.ATTimeout, "AT+QDR=%d", d.config.DataRate); err != nil {
		return fmt.Errorf("set data rate: %w", err)
	}
	return d.config.Session.Connect()
}

// Disconnect leaves the network and saves the module context.
func (d *Driver) Disconnect() error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.parser.ExecCommand(d.config.QueryTimeout, "AT+QDISC"); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	if err := d.parser.ExecCommand(d.config.ATTimeout, "AT+QCS"); err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	d.joinState = JoinInit
	return nil
}

// Tx sends data as a confirmed uplink on port.
func (d *Driver) Tx(data []byte, port int) error {
	if err := d.ready(); err != nil {
		return err
	}
	if port < 1 || port > 223 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if len(data) > d.config.MaxPayload {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrNoMemory, len(data), d.config.MaxPayload)
	}
	if err := d.parser.ExecCommand(d.config.QueryTimeout, "AT+QSEND=%d:1:%s", port, encodePayload(data)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// receive queues a downlink. The URC may arrive in the middle of another
// exchange, so the session only sees it on the next Process.
func (d *Driver) receive(rest string) error {
	data, err := decodeDownlink(rest)
	if err != nil {
		return err
	}
	d.logger.Debug("downlink received", "port", d.config.RxPort, "bytes", len(data))
	d.downlinks = append(d.downlinks, data)
	return nil
}

func (d *Driver) deliver() {
	for len(d.downlinks) > 0 {
		data := d.downlinks[0]
		d.downlinks = d.downlinks[1:]
		if err := d.config.Session.Receive(data, d.config.RxPort); err != nil {
			d.logger.Warn("session rejected downlink", "error", err)
		}
	}
}

func encodePayload(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// decodeDownlink parses "LL:hex" where LL is the payload length in hex.
func decodeDownlink(s string) ([]byte, error) {
	if len(s) < 3 || s[2] != ':' {
		return nil, fmt.Errorf("%w: downlink %q", at.ErrResponseUnexpected, s)
	}
	n, err := strconv.ParseUint(s[:2], 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: downlink length %q", at.ErrResponseUnexpected, s[:2])
	}
	payload := s[3:]
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: odd downlink payload", at.ErrResponseUnexpected)
	}
	data, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", at.ErrResponseUnexpected, err)
	}
	if len(data) != int(n) {
		return nil, fmt.Errorf("%w: downlink length %d, payload %d bytes", at.ErrResponseUnexpected, n, len(data))
	}
	return data, nil
}

// UpdateFirmware flashes the first firmware asset named after the module
// model when its version differs from the running one, or always when
// force is set.
//
// It returns nil when no asset matches or the module is up to date. Every
// flash attempt returns an error matching ErrRestartRequired, wrapping
// either ErrFlashed or the flash failure; the Driver refuses further AT
// operations afterwards.
func (d *Driver) UpdateFirmware(ctx context.Context, force bool) error {
	if d.closed || d.flashed {
		return ErrInvalidState
	}
	if d.config.Firmware == nil {
		return nil
	}
	asset, ok, err := firmware.Find(d.config.Firmware, d.config.ModelPrefix)
	if err != nil {
		return fmt.Errorf("list firmware: %w", err)
	}
	if !ok {
		d.logger.Info("no firmware asset for module", "model", d.config.ModelPrefix)
		return nil
	}

	if !force {
		if d.parser == nil {
			return ErrInvalidState
		}
		current, err := d.FirmwareVersion()
		switch {
		case err != nil:
			d.logger.Warn("reading firmware version", "error", err)
		case current == asset.Version():
			d.logger.Info("firmware up to date", "version", current)
			return nil
		default:
			d.logger.Info("firmware outdated", "running", current, "available", asset.Version())
		}
	}

	if err := d.dial(ctx); err != nil {
		return err
	}
	flasher := d.config.Flasher
	if flasher == nil {
		flasher = stm32.New(d.transport, d.config.GPIO,
			stm32.WithLogger(d.config.Logger.With("component", "stm32")),
			stm32.WithRestoreMode(d.config.ATMode),
			stm32.WithClock(d.config.Clock),
			stm32.WithSleep(d.sleep),
		)
	}

	d.flashed = true
	d.logger.Info("flashing firmware", "asset", asset.Name, "bytes", len(asset.Data), "forced", force)
	if err := flasher.Flash(ctx, asset.Data, d.config.BootPin, d.config.ResetPin, d.config.FlashFlags); err != nil {
		return fmt.Errorf("%w: flash %s: %w", ErrRestartRequired, asset.Name, err)
	}
	return fmt.Errorf("%w: %w: %s", ErrRestartRequired, ErrFlashed, asset.Name)
}

// sleep yields until the clock moved by dur.
func (d *Driver) sleep(dur time.Duration) {
	end := d.config.Clock.Now().Add(dur)
	for d.config.Clock.Now().Before(end) {
		d.config.Yield()
	}
}

// JoinState returns the last known join state.
func (d *Driver) JoinState() JoinState {
	return d.joinState
}

// Close releases the boot and reset lines and closes the transport.
func (d *Driver) Close() error {
	if d.closed {
		return ErrAlreadyClosed
	}
	d.closed = true

	pins := []gpio.Pin{d.config.BootPin, d.config.ResetPin}
	if sel := d.config.BusSelectPin; sel != nil {
		pins = append(pins, *sel)
	}
	var errs []error
	for _, p := range pins {
		if err := d.config.GPIO.SetPinMode(p, gpio.Input); err != nil {
			errs = append(errs, fmt.Errorf("pin %s: %w", p, err))
		}
	}
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	d.parser = nil
	return errors.Join(errs...)
}

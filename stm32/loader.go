// Package stm32 programs STM32 based modules over the USART bootloader
// described in ST application note AN3155.
package stm32

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"i4.energy/across/lorancp/gpio"
)

// Flags describe how the boot and reset lines are wired.
type Flags uint32

const (
	// ResetNonInverted means driving the reset line low resets the module.
	// Without it, a transistor inverts the line and high asserts reset.
	ResetNonInverted Flags = 1
	// BootNonInverted means driving the boot line high selects the system
	// bootloader.
	BootNonInverted Flags = 2
)

// ResetActive is the level that holds the module in reset.
func (f Flags) ResetActive() gpio.Level {
	if f&ResetNonInverted != 0 {
		return gpio.Low
	}
	return gpio.High
}

// BootActive is the level that selects the system bootloader.
func (f Flags) BootActive() gpio.Level {
	if f&BootNonInverted != 0 {
		return gpio.High
	}
	return gpio.Low
}

const (
	resetPulse  = 10 * time.Millisecond
	resetSettle = 100 * time.Millisecond
	pollPeriod  = time.Millisecond
)

// Port is the serial line to the module. Read must return 0, nil when no
// byte is available.
type Port interface {
	io.ReadWriter
	SetMode(mode *serial.Mode) error
	ResetInputBuffer() error
}

// Loader writes firmware images through the bootloader. A Loader does not
// own the port; it borrows it for the duration of Flash.
type Loader struct {
	port   Port
	gpio   gpio.Controller
	config Config
}

// New creates a Loader. Neither port nor gpio may be nil.
func New(port Port, pins gpio.Controller, opts ...Option) *Loader {
	if port == nil || pins == nil {
		panic("stm32: port and gpio controller are required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loader{port: port, gpio: pins, config: cfg}
}

// Flash puts the module into its bootloader, mass erases it, writes and
// verifies image at the flash base and starts it. Whatever the outcome, the
// boot line is released, the module is reset, both pins are returned to
// inputs and the port gets its restore mode back.
//
// Every returned error matches ErrFlashIO. There are no internal retries.
func (l *Loader) Flash(ctx context.Context, image []byte, boot, reset gpio.Pin, flags Flags) (err error) {
	start := l.config.Clock.Now()
	log := l.config.Logger.With("boot", boot.String(), "reset", reset.String())

	defer func() {
		if lerr := l.leave(boot, reset, flags); lerr != nil {
			log.Error("failed to leave bootloader", "error", lerr)
			if err == nil {
				err = lerr
			}
		}
	}()

	if len(image) == 0 {
		return ioError("validate image", ErrEmptyImage)
	}

	if err := l.enter(boot, reset, flags); err != nil {
		return ioError("enter bootloader", err)
	}
	if err := l.sync(); err != nil {
		return ioError("sync", err)
	}

	version, eraseCmd, err := l.get()
	if err != nil {
		return ioError("get", err)
	}
	pid, err := l.getID()
	if err != nil {
		return ioError("get id", err)
	}
	log.Info("bootloader connected",
		"version", fmt.Sprintf("%d.%d", version>>4, version&0x0F),
		"pid", fmt.Sprintf("0x%03X", pid),
		"extended_erase", eraseCmd == cmdExtendedErase,
	)

	l.report(Progress{Phase: "erasing", Total: len(image)})
	if err := l.massErase(eraseCmd); err != nil {
		return ioError("mass erase", err)
	}

	base := l.config.FlashBase
	for off := 0; off < len(image); off += blockSize {
		if err := ctx.Err(); err != nil {
			return ioError("write memory", err)
		}
		block := image[off:min(off+blockSize, len(image))]
		addr := base + uint32(off)
		if err := l.writeMemory(addr, block); err != nil {
			return ioError(fmt.Sprintf("write memory at 0x%08X", addr), err)
		}
		l.report(Progress{Phase: "writing", Done: off + len(block), Total: len(image)})
	}

	for off := 0; off < len(image); off += blockSize {
		if err := ctx.Err(); err != nil {
			return ioError("verify", err)
		}
		block := image[off:min(off+blockSize, len(image))]
		addr := base + uint32(off)
		got, err := l.readMemory(addr, len(block))
		if err != nil {
			return ioError(fmt.Sprintf("read memory at 0x%08X", addr), err)
		}
		if !bytes.Equal(got, block) {
			return ioError(fmt.Sprintf("verify at 0x%08X", addr), ErrVerify)
		}
		l.report(Progress{Phase: "verifying", Done: off + len(block), Total: len(image)})
	}

	if err := l.goTo(base); err != nil {
		return ioError("go", err)
	}

	l.report(Progress{Phase: "complete", Done: len(image), Total: len(image)})
	log.Info("firmware flashed", "bytes", len(image), "elapsed", l.config.Clock.Now().Sub(start).String())
	return nil
}

// enter selects the system bootloader and restarts the module into it.
func (l *Loader) enter(boot, reset gpio.Pin, flags Flags) error {
	if err := l.drive(boot, flags.BootActive()); err != nil {
		return err
	}
	if err := l.drive(reset, flags.ResetActive()); err != nil {
		return err
	}
	l.config.Sleep(resetPulse)
	if err := l.gpio.WritePinValue(reset, flags.ResetActive().Invert()); err != nil {
		return err
	}
	l.config.Sleep(resetSettle)

	mode := &serial.Mode{
		BaudRate: l.config.BaudRate,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	if err := l.port.SetMode(mode); err != nil {
		return errors.Wrap(err, "set 8E1 mode")
	}
	return errors.Wrap(l.port.ResetInputBuffer(), "reset input buffer")
}

// leave restarts the module into its application and hands the pins and
// the port back. All steps are attempted; the first failure is returned.
func (l *Loader) leave(boot, reset gpio.Pin, flags Flags) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(l.drive(boot, flags.BootActive().Invert()))
	keep(l.drive(reset, flags.ResetActive()))
	l.config.Sleep(resetPulse)
	keep(l.gpio.WritePinValue(reset, flags.ResetActive().Invert()))
	keep(l.gpio.SetPinMode(boot, gpio.Input))
	keep(l.gpio.SetPinMode(reset, gpio.Input))
	keep(errors.Wrap(l.port.SetMode(l.config.RestoreMode), "restore port mode"))
	keep(errors.Wrap(l.port.ResetInputBuffer(), "reset input buffer"))

	return ioError("leave bootloader", first)
}

func (l *Loader) drive(p gpio.Pin, level gpio.Level) error {
	if err := l.gpio.SetPinMode(p, gpio.Output); err != nil {
		return err
	}
	return l.gpio.WritePinValue(p, level)
}

// sync sends the autobaud byte. A NACK means the bootloader was already
// synchronized by an earlier attempt.
func (l *Loader) sync() error {
	if err := l.write([]byte{syncByte}); err != nil {
		return err
	}
	b, err := l.readByte(l.config.AckTimeout)
	if err != nil {
		return err
	}
	if b != ackByte && b != nackByte {
		return errors.Errorf("unexpected sync reply 0x%02X", b)
	}
	return nil
}

// get returns the bootloader version and the supported erase command.
func (l *Loader) get() (byte, byte, error) {
	data, err := l.query(cmdGet)
	if err != nil {
		return 0, 0, err
	}
	if len(data) < 2 {
		return 0, 0, errors.Errorf("short GET reply of %d bytes", len(data))
	}

	version, cmds := data[0], data[1:]
	switch {
	case slices.Contains(cmds, cmdExtendedErase):
		return version, cmdExtendedErase, nil
	case slices.Contains(cmds, cmdErase):
		return version, cmdErase, nil
	default:
		return version, 0, errors.New("bootloader supports no erase command")
	}
}

func (l *Loader) getID() (uint16, error) {
	data, err := l.query(cmdGetID)
	if err != nil {
		return 0, err
	}
	var pid uint16
	for _, b := range data {
		pid = pid<<8 | uint16(b)
	}
	return pid, nil
}

// query runs a command whose reply is a length byte N, N+1 bytes and ACK.
func (l *Loader) query(code byte) ([]byte, error) {
	if err := l.command(code); err != nil {
		return nil, err
	}
	n, err := l.readByte(l.config.AckTimeout)
	if err != nil {
		return nil, err
	}
	data := make([]byte, int(n)+1)
	if err := l.readFull(data, l.config.AckTimeout); err != nil {
		return nil, err
	}
	return data, l.waitAck(l.config.AckTimeout)
}

func (l *Loader) massErase(code byte) error {
	if err := l.command(code); err != nil {
		return err
	}
	if err := l.write(massEraseFrame(code)); err != nil {
		return err
	}
	return l.waitAck(l.config.EraseTimeout)
}

func (l *Loader) writeMemory(addr uint32, data []byte) error {
	if err := l.command(cmdWriteMemory); err != nil {
		return err
	}
	if err := l.address(addr); err != nil {
		return err
	}
	if err := l.write(writeFrame(data)); err != nil {
		return err
	}
	return l.waitAck(l.config.AckTimeout)
}

func (l *Loader) readMemory(addr uint32, n int) ([]byte, error) {
	if err := l.command(cmdReadMemory); err != nil {
		return nil, err
	}
	if err := l.address(addr); err != nil {
		return nil, err
	}
	if err := l.write(readLengthFrame(n)); err != nil {
		return nil, err
	}
	if err := l.waitAck(l.config.AckTimeout); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	return data, l.readFull(data, l.config.AckTimeout)
}

func (l *Loader) goTo(addr uint32) error {
	if err := l.command(cmdGo); err != nil {
		return err
	}
	return l.address(addr)
}

func (l *Loader) command(code byte) error {
	if err := l.write(commandFrame(code)); err != nil {
		return err
	}
	return errors.Wrapf(l.waitAck(l.config.AckTimeout), "command 0x%02X", code)
}

func (l *Loader) address(addr uint32) error {
	if err := l.write(addressFrame(addr)); err != nil {
		return err
	}
	return errors.Wrapf(l.waitAck(l.config.AckTimeout), "address 0x%08X", addr)
}

func (l *Loader) waitAck(timeout time.Duration) error {
	b, err := l.readByte(timeout)
	if err != nil {
		return err
	}
	switch b {
	case ackByte:
		return nil
	case nackByte:
		return ErrNACK
	default:
		return errors.Errorf("expected ACK, got 0x%02X", b)
	}
}

func (l *Loader) write(b []byte) error {
	_, err := l.port.Write(b)
	return errors.Wrap(err, "write")
}

func (l *Loader) readByte(timeout time.Duration) (byte, error) {
	var b [1]byte
	err := l.readFull(b[:], timeout)
	return b[0], err
}

// readFull fills buf. The timeout applies to each gap between bytes and
// includes the time spent inside Read.
func (l *Loader) readFull(buf []byte, timeout time.Duration) error {
	clock := l.config.Clock
	deadline := clock.Now().Add(timeout)
	for got := 0; got < len(buf); {
		n, err := l.port.Read(buf[got:])
		if err != nil {
			return errors.Wrap(err, "read")
		}
		if n > 0 {
			got += n
			deadline = clock.Now().Add(timeout)
			continue
		}
		if !clock.Now().Before(deadline) {
			return ErrNoResponse
		}
		l.config.Sleep(pollPeriod)
	}
	return nil
}

func (l *Loader) report(p Progress) {
	if l.config.Progress != nil {
		l.config.Progress(p)
	}
}

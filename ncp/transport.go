package ncp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to the NCP.
//
// Reads are non-blocking: Read returns 0, nil when nothing is buffered. The
// firmware flash loader reconfigures the line through SetMode, so the same
// Transport serves both the AT session and the bootloader.
//
//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=ncp
type Transport interface {
	io.ReadWriteCloser
	// Flush waits until all written bytes have left the host.
	Flush() error
	// SetMode changes baud rate and framing.
	SetMode(mode *serial.Mode) error
	// ResetInputBuffer discards received but unread bytes.
	ResetInputBuffer() error
}

// Dialer opens a Transport to the NCP.
//
// Dialer abstracts how the connection is created (for example, via a serial
// port or a test double) and is used by Begin, or by UpdateFirmware when the
// module never came up.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport.
	// It should respect cancellation provided by the context.
	Dial(ctx context.Context) (Transport, error)
}

// DefaultMode is the line setting of the AT session.
func DefaultMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// SerialDialer opens the NCP over a serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	// BaudRate overrides the baud rate of Mode when set.
	BaudRate int
	// Mode defaults to DefaultMode.
	Mode *serial.Mode
	// ReadTimeout bounds each Read; a read that times out returns 0, nil.
	// Zero, the default, returns right away when nothing is buffered.
	ReadTimeout time.Duration
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("ncp: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("ncp: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := DefaultMode()
	if d.Mode != nil {
		m := *d.Mode
		mode = &m
	}
	if d.BaudRate > 0 {
		mode.BaudRate = d.BaudRate
	}
	t := &SerialTransport{portName: d.PortName, mode: mode, readTimeout: d.readTimeout()}
	if err := t.On(); err != nil {
		return nil, err
	}
	return t, nil
}

// readTimeout never goes negative, which would make serial.Port block.
func (d SerialDialer) readTimeout() time.Duration {
	return max(d.ReadTimeout, 0)
}

// SerialTransport is a Transport over a go.bug.st/serial port. It can be
// powered down and back up with Off and On, which close and reopen the port.
type SerialTransport struct {
	mu          sync.Mutex
	portName    string
	mode        *serial.Mode
	readTimeout time.Duration
	port        serial.Port
}

// On opens the port if it is not open.
func (t *SerialTransport) On() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}
	port, err := serial.Open(t.portName, t.mode)
	if err != nil {
		return fmt.Errorf("ncp: open serial port %s: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("ncp: set read timeout on %s: %w", t.portName, err)
	}
	t.port = port
	return nil
}

// Off closes the port. Reads and writes fail until On is called again.
func (t *SerialTransport) Off() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *SerialTransport) current() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, fmt.Errorf("ncp: serial port %s is off", t.portName)
	}
	return t.port, nil
}

// Read returns 0, nil when the read timeout elapses without data.
func (t *SerialTransport) Read(p []byte) (int, error) {
	port, err := t.current()
	if err != nil {
		return 0, err
	}
	return port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	port, err := t.current()
	if err != nil {
		return 0, err
	}
	return port.Write(p)
}

func (t *SerialTransport) Flush() error {
	port, err := t.current()
	if err != nil {
		return err
	}
	return port.Drain()
}

// SetMode reconfigures the open port and is remembered for the next On.
func (t *SerialTransport) SetMode(mode *serial.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := *mode
	t.mode = &m
	if t.port == nil {
		return nil
	}
	return t.port.SetMode(&m)
}

func (t *SerialTransport) ResetInputBuffer() error {
	port, err := t.current()
	if err != nil {
		return err
	}
	return port.ResetInputBuffer()
}

func (t *SerialTransport) Close() error {
	return t.Off()
}

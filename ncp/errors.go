package ncp

import (
	"errors"

	"i4.energy/across/lorancp/at"
	"i4.energy/across/lorancp/stm32"
)

var (
	// ErrNoDialer is returned when a Driver is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the module.
	ErrNoDialer = errors.New("ncp: no dialer configured")

	// ErrNoGPIO is returned when a Driver is constructed without a GPIO
	// controller. The boot and reset lines are needed to bring the module up.
	ErrNoGPIO = errors.New("ncp: no gpio controller configured")

	// ErrAlreadyClosed is returned when Close is called on a Driver that has
	// already been closed.
	ErrAlreadyClosed = errors.New("ncp: driver already closed")

	// ErrInvalidState is returned when an operation is attempted before
	// Begin, after Close, or after a firmware flash attempt.
	ErrInvalidState = errors.New("ncp: invalid state")

	// ErrNoMemory is returned by Tx when the encoded payload does not fit
	// into the send buffer of the module.
	ErrNoMemory = errors.New("ncp: payload exceeds send buffer")

	// ErrInvalidPort is returned by Tx for an application port outside 1-223.
	ErrInvalidPort = errors.New("ncp: invalid application port")

	// ErrRestartRequired is matched by every error returned from a firmware
	// flash attempt, successful or not.
	//
	// The transport and the module state are no longer trustworthy after a
	// reflash. The host must tear the Driver down and start over, typically
	// by restarting the process. When flashing failed the flash error is
	// wrapped as well.
	ErrRestartRequired = errors.New("ncp: restart required after firmware flash")

	// ErrFlashed is wrapped next to ErrRestartRequired when the image was
	// written and started.
	ErrFlashed = errors.New("ncp: firmware flashed")
)

// Condition codes reported by Code.
const (
	CodeNone               = 0
	CodeUnknown            = -100
	CodeTimeout            = -160
	CodeInvalidState       = -210
	CodeFlashIO            = -219
	CodeTransport          = -220
	CodeNoMemory           = -260
	CodeATNotOK            = -1200
	CodeResponseUnexpected = -1210
)

// Code maps err onto a stable negative condition code for status reporting
// and process exit statuses.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, stm32.ErrFlashIO):
		return CodeFlashIO
	case errors.Is(err, at.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, at.ErrTransport):
		return CodeTransport
	case errors.Is(err, ErrNoMemory):
		return CodeNoMemory
	case errors.Is(err, at.ErrNotOK):
		return CodeATNotOK
	case errors.Is(err, at.ErrResponseUnexpected):
		return CodeResponseUnexpected
	default:
		return CodeUnknown
	}
}

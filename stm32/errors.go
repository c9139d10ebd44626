package stm32

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrFlashIO is matched by every error returned from Flash.
	//
	// The module is left with its boot line released and should be restarted
	// regardless of which step failed.
	ErrFlashIO = errors.New("stm32: flash I/O failure")

	// ErrNACK is returned when the bootloader rejects a command or a frame.
	ErrNACK = errors.New("stm32: bootloader sent NACK")

	// ErrNoResponse is returned when the bootloader does not answer within
	// the configured timeout.
	ErrNoResponse = errors.New("stm32: bootloader did not respond")

	// ErrVerify is returned when memory read back after programming differs
	// from the image.
	ErrVerify = errors.New("stm32: verification failed")

	// ErrEmptyImage is returned for a zero length image.
	ErrEmptyImage = errors.New("stm32: empty image")
)

// IOError describes the step of the flashing sequence that failed.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("stm32: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrFlashIO, e.Err}
}

func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

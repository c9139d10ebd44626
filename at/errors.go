package at

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is matched by every error caused by a failed read from or
	// write to the underlying byte stream.
	//
	// The exchange that observed the failure is aborted immediately.
	ErrTransport = errors.New("at: transport failure")

	// ErrTimeout is returned when a command does not resolve to a final
	// result within its timeout.
	//
	// Any partial line received so far is discarded.
	ErrTimeout = errors.New("at: command timed out")

	// ErrNotOK is matched by *NotOKError, returned when the module answers a
	// command with a final result other than OK.
	ErrNotOK = errors.New("at: result not OK")

	// ErrResponseUnexpected is returned when a reply or URC does not have the
	// shape the caller expected, for example a status line that does not
	// parse.
	ErrResponseUnexpected = errors.New("at: unexpected response")

	// ErrBusy is the result of a command issued by a URC handler. The
	// handler may run while another exchange is waiting for its reply, and
	// only one command can be in flight.
	ErrBusy = errors.New("at: command issued from a URC handler")

	// ErrInvalidPrefix is returned by AddURCHandler for an empty prefix.
	ErrInvalidPrefix = errors.New("at: empty URC prefix")

	// ErrAmbiguousPrefix is returned by AddURCHandler when the new prefix and
	// an already registered one are prefixes of each other.
	ErrAmbiguousPrefix = errors.New("at: ambiguous URC prefix")

	// ErrLineTooLong is returned when a response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("at: response line too long")
)

// NotOKError carries the final result token of a failed command.
type NotOKError struct {
	Result string
}

func (e *NotOKError) Error() string {
	return fmt.Sprintf("at: module returned %q", e.Result)
}

func (e *NotOKError) Is(target error) bool {
	return target == ErrNotOK
}

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("at: %s: %v", e.op, e.err)
}

func (e *transportError) Unwrap() []error {
	return []error{ErrTransport, e.err}
}

package at

import (
	"errors"
	"iter"
	"time"
)

// Response is the reply to a single command. Lines are pulled one at a
// time, scanner style:
//
//	resp := p.SendCommand(time.Second, "AT+QVER=?")
//	for resp.Next() {
//		fmt.Println(resp.Line())
//	}
//	if err := resp.Err(); err != nil { ... }
//
// A Response is single-pass and cannot be restarted.
type Response struct {
	p        *Parser
	command  string
	deadline time.Time
	state    ExchangeState

	line   string
	result string
	err    error
}

// Next advances to the next intermediate line. It returns false once the
// final result has been read, the timeout elapsed or the transport failed.
func (r *Response) Next() bool {
	if r.state != StateAwaitingLine {
		return false
	}

	line, err := r.p.nextLine(r.deadline)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			r.finish(StateTimedOut, err)
		} else {
			r.finish(StateResolved, err)
		}
		return false
	}

	if Classify(line) == TypeFinal {
		r.result = line
		if line != OK {
			err = &NotOKError{Result: line}
		}
		r.finish(StateResolved, err)
		return false
	}

	r.line = line
	return true
}

// Line returns the line read by the last successful call to Next.
func (r *Response) Line() string {
	return r.line
}

// Lines ranges over the remaining intermediate lines.
func (r *Response) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		for r.Next() {
			if !yield(r.Line()) {
				return
			}
		}
	}
}

// Err returns the outcome of the exchange once Next has returned false:
// nil for OK, otherwise the failure. It returns nil while lines remain.
func (r *Response) Err() error {
	return r.err
}

// Result drains any remaining lines and returns the outcome.
func (r *Response) Result() error {
	for r.Next() {
	}
	return r.err
}

// FinalResult returns the final result line, empty until one was read.
func (r *Response) FinalResult() string {
	return r.result
}

// State reports where the exchange is.
func (r *Response) State() ExchangeState {
	return r.state
}

// Command returns the command line without terminator.
func (r *Response) Command() string {
	return r.command
}

func (r *Response) finish(state ExchangeState, err error) {
	r.state = state
	r.err = err
	r.line = ""
	if r.p.active == r {
		r.p.active = nil
	}
}

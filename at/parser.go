package at

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// URCHandler receives the remainder of an unsolicited line after the
// registered prefix. A returned error is logged and the line is dropped.
type URCHandler func(rest string) error

type urcHandler struct {
	prefix string
	fn     URCHandler
}

// Parser turns a non-blocking byte stream into a command/response/URC
// abstraction. The stream's Read must return 0, nil when no data is
// available.
//
// Parser is not safe for concurrent use. All waiting happens in loops that
// call the yield hook, so a single control flow owns the parser together
// with everything it dispatches to.
type Parser struct {
	rw         io.ReadWriter
	clock      Clock
	yield      func()
	logger     *slog.Logger
	terminator string
	maxLine    int

	handlers []urcHandler

	// rxBuf holds bytes of a line that is not yet terminated
	rxBuf   []byte
	readBuf []byte
	// lines holds complete lines in arrival order that no one consumed yet
	lines []string

	active *Response
	// dispatching is set while a URC handler runs
	dispatching bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock sets the time source for command timeouts.
func WithClock(c Clock) Option {
	return func(p *Parser) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithYield sets the hook called on every iteration of a wait loop.
func WithYield(fn func()) Option {
	return func(p *Parser) {
		if fn != nil {
			p.yield = fn
		}
	}
}

// WithLogger sets the logger used for wire traces and dropped lines.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTerminator sets the sequence appended to every command.
func WithTerminator(t string) Option {
	return func(p *Parser) {
		p.terminator = t
	}
}

// WithMaxLineLength bounds the size of a single unterminated line.
func WithMaxLineLength(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLine = n
		}
	}
}

// NewParser creates a Parser on top of rw.
func NewParser(rw io.ReadWriter, opts ...Option) *Parser {
	p := &Parser{
		rw:         rw,
		clock:      SystemClock{},
		yield:      func() { time.Sleep(time.Millisecond) },
		logger:     slog.New(slog.DiscardHandler),
		terminator: CRLF,
		maxLine:    1024,
		readBuf:    make([]byte, 256),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddURCHandler registers fn for lines starting with prefix. Prefixes must
// not be prefixes of one another so that dispatch is unambiguous.
func (p *Parser) AddURCHandler(prefix string, fn URCHandler) error {
	if prefix == "" {
		return ErrInvalidPrefix
	}
	if fn == nil {
		return fmt.Errorf("at: nil handler for %q", prefix)
	}
	for _, h := range p.handlers {
		if strings.HasPrefix(h.prefix, prefix) || strings.HasPrefix(prefix, h.prefix) {
			return fmt.Errorf("%w: %q conflicts with %q", ErrAmbiguousPrefix, prefix, h.prefix)
		}
	}
	p.handlers = append(p.handlers, urcHandler{prefix: prefix, fn: fn})
	return nil
}

// SendCommand writes the formatted command and returns a Response that
// lazily yields the reply lines. A previous response that has not reached
// its final result is drained first.
//
// Called from a URC handler, nothing is written and the Response resolves
// to ErrBusy.
func (p *Parser) SendCommand(timeout time.Duration, format string, args ...any) *Response {
	cmd := fmt.Sprintf(format, args...)
	if p.dispatching {
		r := &Response{p: p, command: cmd}
		r.finish(StateResolved, ErrBusy)
		p.logger.Warn("command rejected inside URC handler", "command", cmd)
		return r
	}

	if prev := p.active; prev != nil && prev.state == StateAwaitingLine {
		p.logger.Debug("draining unfinished response", "command", prev.command)
		_ = prev.Result()
	}

	r := &Response{p: p, command: cmd, state: StateSending}
	p.active = r

	p.logger.Debug("> "+cmd, "timeout", timeout)
	if _, err := p.rw.Write([]byte(cmd + p.terminator)); err != nil {
		r.finish(StateResolved, &transportError{op: "write command " + cmd, err: err})
		return r
	}

	r.deadline = p.clock.Now().Add(timeout)
	r.state = StateAwaitingLine
	return r
}

// ExecCommand sends a command and drains its response. It returns nil for
// OK, a *NotOKError for any other final result, and transport or timeout
// errors as they occur.
func (p *Parser) ExecCommand(timeout time.Duration, format string, args ...any) error {
	return p.SendCommand(timeout, format, args...).Result()
}

// ProcessURC dispatches every complete line that is already available
// without waiting for more. Lines that match no handler are dropped unless
// a command is awaiting its reply, in which case they stay queued for it.
// Only transport failures are returned.
func (p *Parser) ProcessURC() error {
	err := p.fill()

	pending := p.lines
	p.lines = nil
	var kept []string
	for _, line := range pending {
		if p.dispatch(line) {
			continue
		}
		if p.inFlight() {
			kept = append(kept, line)
			continue
		}
		p.logger.Debug("dropping unsolicited line", "line", line)
	}
	p.lines = kept

	return err
}

func (p *Parser) inFlight() bool {
	return p.active != nil && p.active.state == StateAwaitingLine
}

// dispatch hands line to the first handler whose prefix matches.
func (p *Parser) dispatch(line string) bool {
	for _, h := range p.handlers {
		if !strings.HasPrefix(line, h.prefix) {
			continue
		}
		p.logger.Debug("< "+line, "urc", h.prefix)
		p.dispatching = true
		err := h.fn(line[len(h.prefix):])
		p.dispatching = false
		if err != nil {
			p.logger.Warn("URC handler failed", "prefix", h.prefix, "line", line, "error", err)
		}
		return true
	}
	return false
}

// nextLine returns the next line that is not a URC, waiting until deadline.
func (p *Parser) nextLine(deadline time.Time) (string, error) {
	for {
		for len(p.lines) > 0 {
			line := p.lines[0]
			p.lines = p.lines[1:]
			if p.dispatch(line) {
				continue
			}
			p.logger.Debug("< " + line)
			return line, nil
		}

		if err := p.fill(); err != nil {
			return "", err
		}
		if len(p.lines) > 0 {
			continue
		}

		if !p.clock.Now().Before(deadline) {
			p.rxBuf = p.rxBuf[:0]
			return "", ErrTimeout
		}
		p.yield()
	}
}

// fill reads whatever the transport has buffered and splits it into lines.
func (p *Parser) fill() error {
	for {
		n, err := p.rw.Read(p.readBuf)
		if n > 0 {
			p.rxBuf = append(p.rxBuf, p.readBuf[:n]...)
		}
		if err != nil {
			return &transportError{op: "read", err: err}
		}
		if n < len(p.readBuf) {
			break
		}
	}

	consumed := 0
	for {
		advance, token, _ := Splitter(p.rxBuf[consumed:], false)
		if advance == 0 {
			break
		}
		consumed += advance
		if line := strings.TrimSpace(string(token)); line != "" {
			p.lines = append(p.lines, line)
		}
	}
	n := copy(p.rxBuf, p.rxBuf[consumed:])
	p.rxBuf = p.rxBuf[:n]

	if len(p.rxBuf) > p.maxLine {
		p.rxBuf = p.rxBuf[:0]
		return ErrLineTooLong
	}
	return nil
}

// IsTransport reports whether err was caused by the byte stream itself.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

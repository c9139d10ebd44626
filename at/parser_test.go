package at_test

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"i4.energy/across/lorancp/at"
)

// stream is a non-blocking in-memory byte stream. Replies are scripted per
// written command through onWrite.
type stream struct {
	rx       []byte
	written  []string
	onWrite  func(cmd string)
	readErr  error
	writeErr error
}

func (s *stream) Read(p []byte) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	n := copy(p, s.rx)
	s.rx = s.rx[n:]
	return n, nil
}

func (s *stream) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	cmd := strings.TrimSuffix(string(p), at.CRLF)
	s.written = append(s.written, cmd)
	if s.onWrite != nil {
		s.onWrite(cmd)
	}
	return len(p), nil
}

func (s *stream) feed(data string) {
	s.rx = append(s.rx, data...)
}

// replies answers each command with the mapped text.
func (s *stream) replies(m map[string]string) {
	s.onWrite = func(cmd string) {
		s.feed(m[cmd])
	}
}

func newTestParser(opts ...at.Option) (*at.Parser, *stream, *at.ManualClock) {
	s := &stream{}
	clock := at.NewManualClock(time.Unix(0, 0))
	opts = append([]at.Option{
		at.WithClock(clock),
		at.WithYield(func() { clock.Advance(10 * time.Millisecond) }),
	}, opts...)
	return at.NewParser(s, opts...), s, clock
}

func TestExecCommand(t *testing.T) {
	t.Run("OK resolves to nil", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{"ATQ": "OK\r\n"})

		if err := p.ExecCommand(time.Second, "ATQ"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !slices.Equal(s.written, []string{"ATQ"}) {
			t.Errorf("unexpected writes: %q", s.written)
		}
	})

	t.Run("Formats arguments", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{"AT+QVL=3": "OK\r\n"})

		if err := p.ExecCommand(time.Second, "AT+QVL=%d", 3); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("ERROR resolves to NotOKError", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{"AT+QJOIN=1": "ERROR\r\n"})

		err := p.ExecCommand(time.Second, "AT+QJOIN=1")
		if !errors.Is(err, at.ErrNotOK) {
			t.Fatalf("expected ErrNotOK, got: %v", err)
		}
		var notOK *at.NotOKError
		if !errors.As(err, &notOK) || notOK.Result != "ERROR" {
			t.Errorf("expected NotOKError with ERROR result, got: %v", err)
		}
	})

	t.Run("CME error resolves to NotOKError", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{"AT+QCS": "+CME ERROR: 4\r\n"})

		err := p.ExecCommand(time.Second, "AT+QCS")
		var notOK *at.NotOKError
		if !errors.As(err, &notOK) || notOK.Result != "+CME ERROR: 4" {
			t.Errorf("expected NotOKError with CME result, got: %v", err)
		}
	})

	t.Run("Timeout when no final result arrives", func(t *testing.T) {
		p, _, clock := newTestParser()
		start := clock.Now()

		resp := p.SendCommand(time.Second, "ATQ")
		err := resp.Result()
		if !errors.Is(err, at.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got: %v", err)
		}
		if resp.State() != at.StateTimedOut {
			t.Errorf("expected state %v, got %v", at.StateTimedOut, resp.State())
		}
		if elapsed := clock.Now().Sub(start); elapsed < time.Second {
			t.Errorf("timed out after %v, expected at least 1s", elapsed)
		}
	})

	t.Run("Partial line is discarded on timeout", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.feed("QSTAT")

		if err := p.ExecCommand(100*time.Millisecond, "ATQ"); !errors.Is(err, at.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got: %v", err)
		}

		s.replies(map[string]string{"AT+QSTATUS=?": "QSTATUS: 0\r\nOK\r\n"})
		resp := p.SendCommand(time.Second, "AT+QSTATUS=?")
		lines := slices.Collect(resp.Lines())
		if !slices.Equal(lines, []string{"QSTATUS: 0"}) {
			t.Errorf("unexpected lines: %q", lines)
		}
		if resp.Err() != nil {
			t.Errorf("unexpected error: %v", resp.Err())
		}
	})

	t.Run("Line split across reads", func(t *testing.T) {
		s := &stream{}
		clock := at.NewManualClock(time.Unix(0, 0))
		yields := 0
		p := at.NewParser(s, at.WithClock(clock), at.WithYield(func() {
			yields++
			if yields == 3 {
				s.feed("\r\n")
			}
			clock.Advance(10 * time.Millisecond)
		}))
		s.onWrite = func(string) { s.feed("OK") }

		if err := p.ExecCommand(time.Second, "ATQ"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if yields < 3 {
			t.Errorf("expected the parser to wait for the terminator, yields=%d", yields)
		}
	})

	t.Run("Write failure aborts with transport error", func(t *testing.T) {
		p, s, _ := newTestParser()
		cause := errors.New("port gone")
		s.writeErr = cause

		resp := p.SendCommand(time.Second, "ATQ")
		err := resp.Result()
		if !errors.Is(err, at.ErrTransport) || !errors.Is(err, cause) {
			t.Errorf("expected transport error wrapping cause, got: %v", err)
		}
		if resp.State() != at.StateResolved {
			t.Errorf("expected state %v, got %v", at.StateResolved, resp.State())
		}
	})

	t.Run("Read failure aborts with transport error", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.readErr = errors.New("framing error")

		err := p.ExecCommand(time.Second, "ATQ")
		if !at.IsTransport(err) {
			t.Errorf("expected transport error, got: %v", err)
		}
	})
}

func TestResponseLines(t *testing.T) {
	t.Run("Yields intermediate lines then resolves", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{
			"AT+QSTATUS=?": "AT+QSTATUS=?\r\nQSTATUS: 1\r\nOK\r\n",
		})

		resp := p.SendCommand(time.Second, "AT+QSTATUS=?")
		if resp.State() != at.StateAwaitingLine {
			t.Errorf("expected state %v, got %v", at.StateAwaitingLine, resp.State())
		}

		var lines []string
		for resp.Next() {
			lines = append(lines, resp.Line())
		}
		if !slices.Equal(lines, []string{"AT+QSTATUS=?", "QSTATUS: 1"}) {
			t.Errorf("unexpected lines: %q", lines)
		}
		if err := resp.Err(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if resp.FinalResult() != at.OK {
			t.Errorf("expected final result OK, got %q", resp.FinalResult())
		}
		if resp.Next() {
			t.Error("Next() should keep returning false once resolved")
		}
	})

	t.Run("Empty lines are skipped", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{"AT+QVER=?": "\r\n\r\nVersion Information: 2.1.0\r\n\r\nOK\r\n"})

		lines := slices.Collect(p.SendCommand(time.Second, "AT+QVER=?").Lines())
		if !slices.Equal(lines, []string{"Version Information: 2.1.0"}) {
			t.Errorf("unexpected lines: %q", lines)
		}
	})

	t.Run("Breaking out early leaves the rest for Result", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{"AT+QVER=?": "a\r\nb\r\nc\r\nERROR\r\n"})

		resp := p.SendCommand(time.Second, "AT+QVER=?")
		for line := range resp.Lines() {
			if line == "a" {
				break
			}
		}
		if !errors.Is(resp.Result(), at.ErrNotOK) {
			t.Errorf("expected ErrNotOK after draining, got: %v", resp.Err())
		}
	})

	t.Run("Unfinished response is drained before the next command", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.replies(map[string]string{
			"AT+QSTATUS=?": "QSTATUS: 0\r\nOK\r\n",
			"ATQ":          "OK\r\n",
		})

		first := p.SendCommand(time.Second, "AT+QSTATUS=?")
		second := p.SendCommand(time.Second, "ATQ")

		if first.State() != at.StateResolved {
			t.Errorf("expected first response resolved, got %v", first.State())
		}
		if lines := slices.Collect(second.Lines()); len(lines) != 0 {
			t.Errorf("second response picked up stale lines: %q", lines)
		}
		if second.Err() != nil {
			t.Errorf("unexpected error: %v", second.Err())
		}
	})
}

func TestAddURCHandler(t *testing.T) {
	noop := func(string) error { return nil }

	tests := []struct {
		name     string
		existing []string
		prefix   string
		expected error
	}{
		{name: "Empty prefix", prefix: "", expected: at.ErrInvalidPrefix},
		{name: "First handler", prefix: "+QEVT:JOINED", expected: nil},
		{name: "Disjoint prefixes", existing: []string{"+QEVT:JOINED"}, prefix: "+QEVT:JOIN FAILED", expected: nil},
		{name: "New prefix extends existing", existing: []string{"+QEVT:"}, prefix: "+QEVT:JOINED", expected: at.ErrAmbiguousPrefix},
		{name: "Existing prefix extends new", existing: []string{"+QEVT:223:"}, prefix: "+QEVT:", expected: at.ErrAmbiguousPrefix},
		{name: "Duplicate prefix", existing: []string{"+QEVT:223:"}, prefix: "+QEVT:223:", expected: at.ErrAmbiguousPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestParser()
			for _, prefix := range tt.existing {
				if err := p.AddURCHandler(prefix, noop); err != nil {
					t.Fatalf("unexpected error registering %q: %v", prefix, err)
				}
			}

			err := p.AddURCHandler(tt.prefix, noop)
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got: %v", tt.expected, err)
			}
		})
	}

	t.Run("Nil handler", func(t *testing.T) {
		p, _, _ := newTestParser()
		if err := p.AddURCHandler("+QEVT:", nil); err == nil {
			t.Error("expected error for nil handler")
		}
	})
}

func TestProcessURC(t *testing.T) {
	t.Run("Dispatches in arrival order and drops unmatched lines", func(t *testing.T) {
		p, s, _ := newTestParser()
		var got []string
		record := func(name string) at.URCHandler {
			return func(rest string) error {
				got = append(got, name+"|"+rest)
				return nil
			}
		}
		if err := p.AddURCHandler("+QEVT:223:", record("rx")); err != nil {
			t.Fatal(err)
		}
		if err := p.AddURCHandler("+QEVT:JOINED", record("joined")); err != nil {
			t.Fatal(err)
		}

		s.feed("+QEVT:223:01:AA\r\nGARBAGE\r\n+QEVT:JOINED\r\n")
		if err := p.ProcessURC(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(got, []string{"rx|01:AA", "joined|"}) {
			t.Errorf("unexpected dispatch: %q", got)
		}

		s.replies(map[string]string{"ATQ": "OK\r\n"})
		resp := p.SendCommand(time.Second, "ATQ")
		if lines := slices.Collect(resp.Lines()); len(lines) != 0 {
			t.Errorf("unmatched line leaked into next response: %q", lines)
		}
	})

	t.Run("Returns immediately without data", func(t *testing.T) {
		yields := 0
		p := at.NewParser(&stream{}, at.WithYield(func() { yields++ }))
		if err := p.ProcessURC(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if yields != 0 {
			t.Errorf("ProcessURC must not wait, yields=%d", yields)
		}
	})

	t.Run("Keeps unmatched lines for the response in flight", func(t *testing.T) {
		p, s, _ := newTestParser()
		joined := 0
		if err := p.AddURCHandler("+QEVT:JOINED", func(string) error {
			joined++
			return nil
		}); err != nil {
			t.Fatal(err)
		}

		resp := p.SendCommand(time.Second, "AT+QSTATUS=?")
		s.feed("QSTATUS: 1\r\n+QEVT:JOINED\r\n")
		if err := p.ProcessURC(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if joined != 1 {
			t.Errorf("expected URC dispatched once, got %d", joined)
		}

		s.feed("OK\r\n")
		lines := slices.Collect(resp.Lines())
		if !slices.Equal(lines, []string{"QSTATUS: 1"}) {
			t.Errorf("unexpected lines: %q", lines)
		}
		if resp.Err() != nil {
			t.Errorf("unexpected error: %v", resp.Err())
		}
	})

	t.Run("URCs inside a response are dispatched", func(t *testing.T) {
		p, s, _ := newTestParser()
		var events []string
		if err := p.AddURCHandler("+QEVT:", func(rest string) error {
			events = append(events, rest)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		s.replies(map[string]string{"AT+QCS": "+QEVT:JOIN FAILED\r\nOK\r\n"})

		if err := p.ExecCommand(time.Second, "AT+QCS"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if !slices.Equal(events, []string{"JOIN FAILED"}) {
			t.Errorf("unexpected events: %q", events)
		}
	})

	t.Run("Commands from a handler do not disturb the response in flight", func(t *testing.T) {
		p, s, _ := newTestParser()
		var inner error
		if err := p.AddURCHandler("+QEVT:223:", func(string) error {
			inner = p.ExecCommand(time.Second, "AT+QSEND=1:1:01")
			return inner
		}); err != nil {
			t.Fatal(err)
		}
		s.replies(map[string]string{"AT+QSTATUS=?": "+QEVT:223:01:FF\r\nQSTATUS: 1\r\nOK\r\n"})

		resp := p.SendCommand(time.Second, "AT+QSTATUS=?")
		lines := slices.Collect(resp.Lines())

		if !errors.Is(inner, at.ErrBusy) {
			t.Errorf("expected ErrBusy from the handler's command, got: %v", inner)
		}
		if resp.Err() != nil {
			t.Errorf("unexpected error: %v", resp.Err())
		}
		if !slices.Equal(lines, []string{"QSTATUS: 1"}) {
			t.Errorf("unexpected lines: %q", lines)
		}
		if !slices.Equal(s.written, []string{"AT+QSTATUS=?"}) {
			t.Errorf("unexpected commands written: %q", s.written)
		}
	})

	t.Run("Commands work again after dispatch", func(t *testing.T) {
		p, s, _ := newTestParser()
		if err := p.AddURCHandler("+QEVT:JOINED", func(string) error { return nil }); err != nil {
			t.Fatal(err)
		}
		s.feed("+QEVT:JOINED\r\n")
		if err := p.ProcessURC(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		s.replies(map[string]string{"ATQ": "OK\r\n"})
		if err := p.ExecCommand(time.Second, "ATQ"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Handler errors are not returned", func(t *testing.T) {
		p, s, _ := newTestParser()
		if err := p.AddURCHandler("+QEVT:223:", func(string) error {
			return at.ErrResponseUnexpected
		}); err != nil {
			t.Fatal(err)
		}

		s.feed("+QEVT:223:ZZ:\r\n")
		if err := p.ProcessURC(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Transport failure is returned", func(t *testing.T) {
		p, s, _ := newTestParser()
		s.readErr = errors.New("device unplugged")

		if err := p.ProcessURC(); !errors.Is(err, at.ErrTransport) {
			t.Errorf("expected ErrTransport, got: %v", err)
		}
	})

	t.Run("Overlong line", func(t *testing.T) {
		p, s, _ := newTestParser(at.WithMaxLineLength(8))
		s.feed("0123456789ABCDEF")

		if err := p.ProcessURC(); !errors.Is(err, at.ErrLineTooLong) {
			t.Errorf("expected ErrLineTooLong, got: %v", err)
		}
	})
}

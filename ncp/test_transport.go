package ncp

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// TestTransport is a test helper that plays the module side of an AT
// session. Commands written to it are answered from a script; reads never
// block and return 0, nil when nothing is queued, like a serial port with a
// short read timeout.
//
// Exported for use in tests.
type TestTransport struct {
	mu       sync.Mutex
	rx       []byte
	pending  []byte
	replies  map[string][]string
	funcs    map[string]func(n int) string
	counts   map[string]int
	commands []string
	modes    []serial.Mode
	err      error
	closed   bool

	// DefaultReply answers commands without a scripted reply. Empty means
	// no answer, so the command times out.
	DefaultReply string
}

// NewTestTransport creates a transport that answers every command with OK.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		replies:      make(map[string][]string),
		funcs:        make(map[string]func(int) string),
		counts:       make(map[string]int),
		DefaultReply: "OK\r\n",
	}
}

// Reply scripts the answers to cmd. Each write of cmd takes the next
// answer; the last one is repeated. An empty answer sends nothing.
func (t *TestTransport) Reply(cmd string, answers ...string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = answers
	return t
}

// ReplyFunc answers cmd with fn, called with the 1-based count of writes
// of cmd so far.
func (t *TestTransport) ReplyFunc(cmd string, fn func(n int) string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.funcs[cmd] = fn
	return t
}

// Inject queues data as if the module sent it unprompted.
func (t *TestTransport) Inject(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx = append(t.rx, data...)
}

// Fail makes every following Read and Write return err.
func (t *TestTransport) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Commands returns the commands written so far, without terminator.
func (t *TestTransport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// Count returns how often cmd was written.
func (t *TestTransport) Count(cmd string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[cmd]
}

// Modes returns the line settings applied with SetMode.
func (t *TestTransport) Modes() []serial.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]serial.Mode(nil), t.modes...)
}

func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return 0, err
	}

	t.pending = append(t.pending, p...)
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimRight(string(t.pending[:i]), "\r")
		t.pending = t.pending[i+1:]
		t.answer(cmd)
	}
	return len(p), nil
}

func (t *TestTransport) answer(cmd string) {
	t.commands = append(t.commands, cmd)
	t.counts[cmd]++
	n := t.counts[cmd]

	if fn, ok := t.funcs[cmd]; ok {
		t.rx = append(t.rx, fn(n)...)
		return
	}
	if answers, ok := t.replies[cmd]; ok && len(answers) > 0 {
		t.rx = append(t.rx, answers[min(n, len(answers))-1]...)
		return
	}
	t.rx = append(t.rx, t.DefaultReply...)
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(); err != nil {
		return 0, err
	}
	n := copy(p, t.rx)
	t.rx = t.rx[n:]
	return n, nil
}

func (t *TestTransport) check() error {
	if t.closed {
		return io.ErrClosedPipe
	}
	return t.err
}

func (t *TestTransport) Flush() error {
	return nil
}

func (t *TestTransport) SetMode(mode *serial.Mode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modes = append(t.modes, *mode)
	return nil
}

func (t *TestTransport) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rx = nil
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

package ncp

// SendFunc transmits an application payload on the given port.
type SendFunc func(data []byte, port int) error

// Session is the application protocol riding on top of the NCP. The Driver
// calls it from its single control flow only.
//
//go:generate go tool mockgen -source=session.go -destination=mock_session.go -package=ncp
type Session interface {
	// Init is called once the module responds, with the function the
	// session uses to transmit.
	Init(send SendFunc) error
	// Connect is called after the network join completed.
	Connect() error
	// Receive delivers a downlink payload. It runs from Process once no
	// command is in flight, so it may transmit.
	Receive(data []byte, port int) error
	// Run gives the session a chance to do scheduled work. It is called on
	// every Process tick and must not block.
	Run() error
}

// NopSession ignores everything.
type NopSession struct{}

func (NopSession) Init(SendFunc) error { return nil }

func (NopSession) Connect() error { return nil }

func (NopSession) Receive([]byte, int) error { return nil }

func (NopSession) Run() error { return nil }

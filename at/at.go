package at

const (
	// Terminal Control
	CRLF = "\r\n"
	LF   = "\n"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"
)

type ResponseType int

const (
	TypeFinal ResponseType = iota // OK, ERROR
	TypeData                      // Intermediate command output (QSTATUS: 1)
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeData:
		return "data"
	default:
		return "unknown"
	}
}

// ExchangeState tracks a single command/response exchange.
type ExchangeState int

const (
	StateIdle ExchangeState = iota
	StateSending
	StateAwaitingLine
	StateResolved
	StateTimedOut
)

func (s ExchangeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingLine:
		return "awaiting-line"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

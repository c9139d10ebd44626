package ncp

// JoinState tracks the network join as reported by the module.
type JoinState int

const (
	JoinInit JoinState = iota
	JoinJoining
	JoinJoined
	JoinFailed
)

func (s JoinState) String() string {
	switch s {
	case JoinInit:
		return "init"
	case JoinJoining:
		return "joining"
	case JoinJoined:
		return "joined"
	case JoinFailed:
		return "failed"
	default:
		return "unknown"
	}
}

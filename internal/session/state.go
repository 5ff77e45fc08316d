package session

// State is the lifecycle position of one tab's terminal connection.
type State int

const (
	// StateUnavailable: no navigation attempted yet.
	StateUnavailable State = iota
	// StateStarted: a navigation is outstanding and nothing has painted.
	StateStarted
	// StateLoaded: the terminal painted and is interactive.
	StateLoaded
	// StateError: the last attempt failed and was not retried.
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnavailable:
		return "unavailable"
	case StateStarted:
		return "started"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

package session

// State describes where a session is in its lifecycle.
type State int32

const (
	// StateStopped means no process is running. The next query starts one.
	StateStopped State = iota

	// StateStarting means a process is being spawned.
	StateStarting

	// StateRunning means a process is up and accepting queries.
	StateRunning

	// StateRestartPending means the server asked to be recycled; the next
	// query stops the current process and starts a fresh one.
	StateRestartPending

	// StateInvalid means the process died underneath a query. The session
	// rejects everything from here on.
	StateInvalid

	// StateClosed means Close was called.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestartPending:
		return "restart_pending"
	case StateInvalid:
		return "invalid"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Debug("session state changed", "from", prev, "to", next)
	}
}

// transition moves from one specific state to another, refusing anything
// else. Terminal states never get overwritten this way.
func (s *Session) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	s.log.Debug("session state changed", "from", from, "to", to)

	return true
}

// settle parks a live session in the given state, leaving invalid and closed
// sessions untouched.
func (s *Session) settle(to State) {
	for _, from := range []State{StateStarting, StateRunning, StateRestartPending} {
		if s.transition(from, to) {
			return
		}
	}
}

// invalidate moves the session to its terminal invalid state unless it is
// already invalid or closed.
func (s *Session) invalidate(command string) {
	for {
		cur := s.State()
		if cur == StateInvalid || cur == StateClosed {
			return
		}

		if s.transition(cur, StateInvalid) {
			s.log.Error("session invalidated, rejecting all further queries", "query", command)

			return
		}
	}
}

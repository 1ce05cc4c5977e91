package session

import "sync"

// State is the lifecycle state of a session.
type State int

const (
	StateBootstrapping   State = iota // startup restore not finished
	StateAuthenticated                // tokens restored, refreshed or logged in
	StateUnauthenticated              // no usable session
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

type stateHolder struct {
	mu       sync.RWMutex
	state    State
	observer Observer
}

func (h *stateHolder) get() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *stateHolder) set(s State) {
	h.mu.Lock()
	changed := h.state != s
	h.state = s
	h.mu.Unlock()

	if changed {
		h.observer.StateChanged(s)
	}
}

// settle moves the state out of StateBootstrapping and returns the state
// that holds afterwards. A login or logout that happened meanwhile wins.
func (h *stateHolder) settle(s State) State {
	h.mu.Lock()
	if h.state != StateBootstrapping {
		current := h.state
		h.mu.Unlock()
		return current
	}
	h.state = s
	h.mu.Unlock()

	h.observer.StateChanged(s)
	return s
}

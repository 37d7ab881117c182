package authsession

import "fmt"

// State is the session's position in the login/refresh/logout state machine.
type State int

const (
	StateLoggedOut State = iota
	StateLoggedIn
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggedIn:
		return "logged_in"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateLoggedOut, StateLoggedIn, StateRefreshing} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// transitions lists the states reachable from each state.
// Self-transitions are handled as no-ops by the caller.
var transitions = map[State][]State{
	StateLoggedOut:  {StateLoggedIn, StateRefreshing},
	StateLoggedIn:   {StateRefreshing, StateLoggedOut},
	StateRefreshing: {StateLoggedIn, StateLoggedOut},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

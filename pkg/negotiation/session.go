package negotiation

import (
	"fmt"
	"strings"
)

// Role decides which side produces the offer. It is local policy and fixed for
// the lifetime of a session.
type Role int

const (
	RoleAnswerer Role = iota
	RoleOfferer
)

func (r Role) String() string {
	switch r {
	case RoleAnswerer:
		return "answerer"
	case RoleOfferer:
		return "offerer"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole converts "offerer" or "answerer" to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offerer", "offer":
		return RoleOfferer, nil
	case "answerer", "answer", "":
		return RoleAnswerer, nil
	default:
		return RoleAnswerer, fmt.Errorf("unknown role %q", s)
	}
}

// State is the state of the negotiation state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOffering
	StateAnswering
	StateNegotiated
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateNegotiated:
		return "negotiated"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CanConnect reports whether connect is accepted from this state.
func (s State) CanConnect() bool {
	return s == StateIdle || s == StateFailed || s == StateClosed
}

// InProgress reports whether a negotiation is underway or established.
func (s State) InProgress() bool {
	switch s {
	case StateConnecting, StateOffering, StateAnswering, StateNegotiated:
		return true
	}
	return false
}

// SessionState tracks one negotiation instance as seen by the signaling layer.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionConnecting
	SessionAwaitingDescription
	SessionDescriptionExchanged
	SessionConnected
	SessionClosed
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionConnecting:
		return "connecting"
	case SessionAwaitingDescription:
		return "awaiting-description"
	case SessionDescriptionExchanged:
		return "description-exchanged"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	case SessionFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Session is one negotiation instance. ID is empty exactly when State is
// SessionIdle or SessionClosed.
type Session struct {
	ID    string
	Role  Role
	State SessionState
}

// HasID reports whether the remote endpoint has assigned an id.
func (s Session) HasID() bool {
	return s.ID != ""
}

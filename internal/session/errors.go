package session

import (
	"errors"
	"fmt"
)

// Reason explains why a join was refused
type Reason string

const (
	ReasonNotFound Reason = "not_found"
	ReasonOccupied Reason = "occupied"
	ReasonSelfJoin Reason = "self_join"
	ReasonClosed   Reason = "closed"
)

var (
	// ErrInvalidParticipant is returned when a participant id or peer is missing
	ErrInvalidParticipant = errors.New("session: participant id and peer are required")
)

// SessionError is returned when a participant cannot join a session
type SessionError struct {
	SessionID string
	Reason    Reason
}

func (e *SessionError) Error() string {
	switch e.Reason {
	case ReasonNotFound:
		return fmt.Sprintf("session %s not found", e.SessionID)
	case ReasonOccupied:
		return fmt.Sprintf("session %s already has two participants", e.SessionID)
	case ReasonSelfJoin:
		return fmt.Sprintf("cannot join own session %s", e.SessionID)
	case ReasonClosed:
		return fmt.Sprintf("session %s is closed", e.SessionID)
	default:
		return fmt.Sprintf("session %s: %s", e.SessionID, e.Reason)
	}
}

package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineStopped is returned for work submitted to, or abandoned by, a stopped engine
	ErrEngineStopped = errors.New("dispatch engine stopped")
	// ErrStreamClosed is returned when submitting to a closed stream
	ErrStreamClosed = errors.New("stream closed")
	// ErrNoProcessFunc is returned when a phrase is submitted without a process func
	ErrNoProcessFunc = errors.New("process func is required")
)

// OrderingViolation is reported when a reorder buffer receives an index that
// was already released or is already pending
type OrderingViolation struct {
	Index   uint64
	Next    uint64
	Pending bool
}

func (e *OrderingViolation) Error() string {
	if e.Pending {
		return fmt.Sprintf("ordering violation: index %d is already pending (next %d)", e.Index, e.Next)
	}
	return fmt.Sprintf("ordering violation: index %d was already released (next %d)", e.Index, e.Next)
}

package turn

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned for typed input while a turn is in flight.
	ErrBusy = errors.New("turn: a turn is already in progress")
	// ErrEmptyText is returned for blank typed input.
	ErrEmptyText = errors.New("turn: empty message")
	// ErrClosed is returned once the controller has stopped running.
	ErrClosed = errors.New("turn: controller closed")
)

// ServiceError wraps a failed transcription, dialogue or playback call. The
// controller drops the turn when it sees one.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string { return fmt.Sprintf("turn: %s failed: %v", e.Op, e.Err) }

func (e *ServiceError) Unwrap() error { return e.Err }

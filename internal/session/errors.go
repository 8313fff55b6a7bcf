package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("session not found")
	ErrNotParticipant      = errors.New("user is not a participant of the session")
	ErrInvalidState        = errors.New("session is not active")
	ErrPaymentRequired     = errors.New("payment has not been confirmed")
	ErrCompletionRequired  = errors.New("both parties must confirm completion first")
	ErrAlreadyConfirmed    = errors.New("payment already confirmed")
	ErrConflict            = errors.New("session was modified concurrently")
	ErrInvalidParticipants = errors.New("session needs two distinct participants")
)

// CompletionError reports how many completion approvals exist when a close
// was refused for lack of them.
type CompletionError struct {
	Approvals int
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("%s (%d/2 confirmed)", ErrCompletionRequired, e.Approvals)
}

func (e *CompletionError) Unwrap() error { return ErrCompletionRequired }

// StorageError wraps a failure of the backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for a missing sender id or address, or an
	// address that does not match the stored sender.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSenderNotFound is returned when the sender does not exist or
	// belongs to someone else.
	ErrSenderNotFound = errors.New("sender not found")
)

// PersistenceError means fetched emails could not be stored. Nothing from
// the batch was written.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to store emails: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

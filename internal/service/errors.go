package service

import (
	"errors"
	"fmt"

	"notesync-server/internal/domain"
)

// ValidationError rejects bad input; it is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NotFoundError reports a missing note, version or conflict.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// AuthenticationError refuses invalid channel or API credentials.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// InvalidStateError reports an operation that violates a state-machine
// invariant, e.g. promoting a version that is not synced.
type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string {
	return e.Msg
}

// StorageError wraps a transient store failure. The sync coordinator
// retries these with backoff; everywhere else they propagate to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConflictDetectedError is not strictly an error: it halts automatic
// promotion and carries the conflicts awaiting resolution.
type ConflictDetectedError struct {
	Conflicts []*domain.Conflict
}

func (e *ConflictDetectedError) Error() string {
	return fmt.Sprintf("conflict detected (%d pending)", len(e.Conflicts))
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

package store

import "errors"

var (
	// ErrConflict reports that a value read inside a transaction changed
	// before commit. RunOptimistic retries on it.
	ErrConflict = errors.New("store: transaction conflict")

	// ErrTooManyAttempts is returned once the retry policy is exhausted.
	ErrTooManyAttempts = errors.New("store: too many transaction attempts")

	// ErrAlreadyExists is returned by a Create whose document exists.
	ErrAlreadyExists = errors.New("store: document already exists")

	// ErrNoDocument is returned by an Update whose document does not exist.
	ErrNoDocument = errors.New("store: no document to update")

	// ErrInvalidRef reports a malformed document or collection path.
	ErrInvalidRef = errors.New("store: invalid reference")

	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("store: closed")
)

// DocError ties a store error to the document it concerns.
type DocError struct {
	Ref Ref
	Err error
}

func (e *DocError) Error() string { return e.Err.Error() + ": " + e.Ref.String() }

func (e *DocError) Unwrap() error { return e.Err }

// ExistsError reports that a create on ref found the document present.
func ExistsError(ref Ref) error {
	return &DocError{Ref: ref, Err: ErrAlreadyExists}
}

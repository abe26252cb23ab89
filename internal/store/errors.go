package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by operations on a destroyed store.
	ErrDestroyed = errors.New("store destroyed")

	// ErrServerOnly is returned by Save on a serverOnly store.
	ErrServerOnly = errors.New("store only accepts server changes")

	// ErrNoTransport is returned when a request needs a transport and the
	// store has none.
	ErrNoTransport = errors.New("store has no transport")

	// ErrNoLoop is returned by New for a store registered with a
	// coordinator but given no loop. Registered stores must share one.
	ErrNoLoop = errors.New("store with a coordinator needs WithLoop")

	// ErrNoLastLoad is returned by Reload before any Load.
	ErrNoLastLoad = errors.New("store was never loaded")

	// ErrAborted is reported to the exception topic of nobody; it marks
	// handles that were aborted.
	ErrAborted = errors.New("request aborted")
)

// ValidationError reports a record excluded from a save.
type ValidationError struct {
	RecordID string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %s is invalid: %v", e.RecordID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransportError wraps a failed round trip.
type TransportError struct {
	RequestID string
	Action    string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request %s failed: %v", e.Action, e.RequestID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

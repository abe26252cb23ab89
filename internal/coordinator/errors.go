package coordinator

import "errors"

var (
	// ErrAlreadyRegistered is returned by Register for a store that is
	// already registered.
	ErrAlreadyRegistered = errors.New("store already registered")

	// ErrLoopMismatch is returned by Register for a store whose loop
	// differs from the loop of the stores already registered.
	ErrLoopMismatch = errors.New("store runs on another loop")

	// ErrNotRegistered is returned by Unregister for an unknown store.
	ErrNotRegistered = errors.New("store not registered")
)

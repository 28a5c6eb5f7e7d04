package types

import (
	"errors"
	"fmt"
)

var (
	// ErrRootUnavailable is returned when a scan root does not exist, is not a
	// directory, or cannot be listed. It aborts the operation.
	ErrRootUnavailable = errors.New("root unavailable")

	// ErrIndexUnavailable is returned when the index store cannot be opened or
	// queried. Callers treat it as a stale index and rebuild.
	ErrIndexUnavailable = errors.New("index unavailable")
)

// RootError wraps err as ErrRootUnavailable for root.
func RootError(root string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRootUnavailable, root, err)
}

// IndexError wraps err as ErrIndexUnavailable.
func IndexError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIndexUnavailable, op, err)
}

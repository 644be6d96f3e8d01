package interfaces

import (
	"errors"
	"fmt"
)

// StorageError marks a genuine storage-layer failure (record store or
// semantic index unavailable, write failed). These are the only errors the
// memory subsystem surfaces to the game loop.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err, passing nil through.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ProviderError marks a failed external decision call. It is always absorbed
// at the dispatcher boundary and converted into a fallback decision.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("decision provider: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// ErrProviderTimeout is the deadline case of a provider failure; handled
// identically to any other provider error.
var ErrProviderTimeout = errors.New("decision provider timed out")

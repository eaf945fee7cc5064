package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when execution exceeds its deadline.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrClassNotFound is returned when a class path resolves to nil.
	ErrClassNotFound = errors.New("lua class not found")

	// ErrNotInstantiable is returned when a class path resolves to a value
	// that is neither a constructor nor a table.
	ErrNotInstantiable = errors.New("lua value is not instantiable")

	// ErrMethodNotFound is returned when an instance has no such method.
	ErrMethodNotFound = errors.New("lua method not found")
)

// GrantError is returned when an unknown grant is requested.
type GrantError struct {
	Grant Grant
}

func (e *GrantError) Error() string {
	return "unknown grant: " + string(e.Grant)
}

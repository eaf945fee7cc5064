package plugin

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrPluginNotFound is returned when no descriptor matches an id.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrCapabilityNotMapped is returned when a matching descriptor exposes no
	// binding for the requested capability.
	ErrCapabilityNotMapped = errors.New("capability not mapped")

	// ErrLoadFailure is returned when the loading mechanism cannot
	// materialize an implementation.
	ErrLoadFailure = errors.New("plugin class load failed")

	// ErrNilDescriptor is returned when a nil descriptor is provided.
	ErrNilDescriptor = errors.New("descriptor is nil")

	// ErrInvalidDescriptor is returned when descriptor validation fails.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrTypeMismatch is returned when a descriptor is registered under a
	// type other than its own.
	ErrTypeMismatch = errors.New("descriptor type mismatch")

	// ErrAlreadyRegistered is returned when the same descriptor value is
	// registered twice.
	ErrAlreadyRegistered = errors.New("descriptor is already registered")

	// ErrNotRegistered is returned when a descriptor has no domain binding.
	ErrNotRegistered = errors.New("descriptor is not registered")

	// ErrNilFactory is returned when a nil supplemental factory is added.
	ErrNilFactory = errors.New("factory is nil")

	// ErrRegistryClosed is returned after Close.
	ErrRegistryClosed = errors.New("registry is closed")
)

// ClassMapError reports a descriptor that has no implementation bound to a
// capability. It matches ErrCapabilityNotMapped with errors.Is.
type ClassMapError struct {
	Type       Type
	ID         string
	Capability Capability
}

// Error implements the error interface.
func (e *ClassMapError) Error() string {
	return fmt.Sprintf("%s: plugin %q of type %s has no class for %s",
		ErrCapabilityNotMapped, e.ID, e.Type, e.Capability)
}

// Unwrap returns ErrCapabilityNotMapped.
func (e *ClassMapError) Unwrap() error {
	return ErrCapabilityNotMapped
}

// LoadError reports a failure of the loading mechanism. It matches both
// ErrLoadFailure and the underlying cause.
type LoadError struct {
	Type  Type
	ID    string
	Class string
	Err   error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Class == "" {
		return fmt.Sprintf("%s: plugin %q of type %s: %v", ErrLoadFailure, e.ID, e.Type, e.Err)
	}
	return fmt.Sprintf("%s: plugin %q of type %s, class %q: %v", ErrLoadFailure, e.ID, e.Type, e.Class, e.Err)
}

// Unwrap returns the sentinel and the cause.
func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLoadFailure}
	}
	return []error{ErrLoadFailure, e.Err}
}

package plugin

import (
	"fmt"

	"github.com/google/uuid"
)

// Loader creates loadable-code contexts. It is the mechanism that physically
// loads implementation code; the registry only orchestrates lifetimes.
type Loader interface {
	// NewContext creates an empty context. The name identifies the owning
	// domain and is informational only.
	NewContext(name string) (Context, error)
}

// Context is one loadable-code context backing an isolation domain.
// Implementations must be safe for concurrent use.
type Context interface {
	// ID returns a unique identifier for this context instance.
	ID() string

	// Attach makes the given code units visible to the context.
	Attach(libraries []string) error

	// Instantiate creates an instance of the named class.
	Instantiate(className string) (any, error)

	// Close releases the context. Instances created from it must not be
	// used afterwards.
	Close() error
}

// emptyLoader backs registries created without a loader. Its contexts
// carry identity but know no classes.
type emptyLoader struct{}

func (emptyLoader) NewContext(name string) (Context, error) {
	return &emptyContext{id: name + "#" + uuid.NewString()}, nil
}

type emptyContext struct {
	id string
}

func (c *emptyContext) ID() string { return c.id }

func (c *emptyContext) Attach(libraries []string) error { return nil }

func (c *emptyContext) Instantiate(className string) (any, error) {
	return nil, fmt.Errorf("class %q: no loader configured", className)
}

func (c *emptyContext) Close() error { return nil }

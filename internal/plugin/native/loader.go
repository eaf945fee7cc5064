package native

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/plugreg/internal/plugin"
)

// Loader creates contexts over a Catalog.
type Loader struct {
	catalog *Catalog
}

var _ plugin.Loader = (*Loader)(nil)

// NewLoader creates a loader for catalog. A nil catalog is treated as empty.
func NewLoader(catalog *Catalog) *Loader {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Loader{catalog: catalog}
}

// Catalog returns the catalog.
func (l *Loader) Catalog() *Catalog {
	return l.catalog
}

// NewContext creates an empty context.
func (l *Loader) NewContext(name string) (plugin.Context, error) {
	return &Context{
		id:      uuid.NewString(),
		name:    name,
		catalog: l.catalog,
		classes: make(map[string]Constructor),
	}, nil
}

// Context resolves global classes and the classes of attached bundles.
// Bundle classes shadow global classes of the same name.
type Context struct {
	id      string
	name    string
	catalog *Catalog

	mu        sync.Mutex
	bundles   []string
	classes   map[string]Constructor
	instances []any
	closed    bool
}

var _ plugin.Context = (*Context)(nil)

// ID returns the context id.
func (c *Context) ID() string {
	return c.id
}

// Name returns the owning domain name.
func (c *Context) Name() string {
	return c.name
}

// Attach makes the classes of each bundle visible. Libraries are bundle
// names.
func (c *Context) Attach(libraries []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	for _, name := range libraries {
		classes, ok := c.catalog.bundle(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrBundleNotFound, name)
		}
		for className, ctor := range classes {
			c.classes[className] = ctor
		}
		c.bundles = append(c.bundles, name)
	}
	return nil
}

// Bundles returns the attached bundle names.
func (c *Context) Bundles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bundles...)
}

// Instantiate calls the constructor of className.
func (c *Context) Instantiate(className string) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	ctor, ok := c.classes[className]
	c.mu.Unlock()

	if !ok {
		if ctor, ok = c.catalog.global(className); !ok {
			return nil, fmt.Errorf("%w: %s", ErrClassNotFound, className)
		}
	}

	v, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", className, err)
	}

	if closer, ok := v.(io.Closer); ok {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = closer.Close()
			return nil, fmt.Errorf("construct %s: %w", className, ErrContextClosed)
		}
		c.instances = append(c.instances, v)
		c.mu.Unlock()
	}
	return v, nil
}

// Close closes every instance implementing io.Closer.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	instances := c.instances
	c.instances = nil
	c.mu.Unlock()

	var errs []error
	for _, v := range instances {
		if err := v.(io.Closer).Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

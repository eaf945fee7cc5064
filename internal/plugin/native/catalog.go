// Package native implements a plugin loading mechanism over Go constructors.
//
// A Catalog holds constructors by class name. Global classes are visible in
// every context. Bundle classes become visible only in contexts that attach
// the bundle, which is how plugins in the same isolation group share code
// that private plugins cannot see.
package native

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Errors for native loading.
var (
	// ErrClassNotFound is returned when no visible constructor exists.
	ErrClassNotFound = errors.New("class not found")

	// ErrBundleNotFound is returned when attaching an unknown bundle.
	ErrBundleNotFound = errors.New("bundle not found")

	// ErrContextClosed is returned when using a closed context.
	ErrContextClosed = errors.New("context is closed")

	// ErrDuplicateClass is returned when a class name is registered twice.
	ErrDuplicateClass = errors.New("class already registered")
)

// Constructor creates a new instance of a class.
type Constructor func() (any, error)

// Catalog is a set of named constructors and bundles. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	classes map[string]Constructor
	bundles map[string]map[string]Constructor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		classes: make(map[string]Constructor),
		bundles: make(map[string]map[string]Constructor),
	}
}

// Register adds a globally visible class.
func (c *Catalog) Register(className string, ctor Constructor) error {
	if className == "" || ctor == nil {
		return fmt.Errorf("register %q: empty name or nil constructor", className)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.classes[className]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, className)
	}
	c.classes[className] = ctor
	return nil
}

// Bundle adds a class to a bundle. Bundles are created on first use.
func (c *Catalog) Bundle(bundle, className string, ctor Constructor) error {
	if bundle == "" || className == "" || ctor == nil {
		return fmt.Errorf("bundle %q class %q: empty name or nil constructor", bundle, className)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	classes, ok := c.bundles[bundle]
	if !ok {
		classes = make(map[string]Constructor)
		c.bundles[bundle] = classes
	}
	if _, exists := classes[className]; exists {
		return fmt.Errorf("%w: %s in bundle %s", ErrDuplicateClass, className, bundle)
	}
	classes[className] = ctor
	return nil
}

// Classes returns the global class names, sorted.
func (c *Catalog) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.classes))
	for name := range c.classes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Bundles returns the bundle names, sorted.
func (c *Catalog) Bundles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.bundles))
	for name := range c.bundles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Catalog) global(className string) (Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctor, ok := c.classes[className]
	return ctor, ok
}

func (c *Catalog) bundle(name string) (map[string]Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	classes, ok := c.bundles[name]
	if !ok {
		return nil, false
	}
	snapshot := make(map[string]Constructor, len(classes))
	for k, v := range classes {
		snapshot[k] = v
	}
	return snapshot, true
}

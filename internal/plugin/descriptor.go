package plugin

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// Type identifies an extension point. Each type owns its own bucket of
// descriptors.
type Type string

// Capability identifies an abstract contract a caller wants an
// implementation of.
type Capability string

// CapabilityOf derives the capability identifier of a Go type.
func CapabilityOf[T any]() Capability {
	return Capability(reflect.TypeFor[T]().String())
}

// Descriptor describes one registered plugin.
//
// Implementations must be comparable (typically pointers) and must not
// change their identity, type or class map while registered.
type Descriptor interface {
	// IDs returns the plugin identifiers; the first is the primary id.
	IDs() []string

	// Name returns the display name.
	Name() string

	// Type returns the owning extension point.
	Type() Type

	// Matches reports whether the plugin answers to id.
	Matches(id string) bool

	// ClassMap returns the primary capability to class bindings.
	ClassMap() map[Capability]string

	// Group returns the isolation group tag, or "" for a private domain.
	Group() string
}

// Describer is implemented by descriptors that carry display metadata.
type Describer interface {
	Description() string
	Category() string
}

// LibraryProvider is implemented by descriptors whose code units must be
// attached to their isolation domain.
type LibraryProvider interface {
	Libraries() []string
}

// ClassLoading is implemented by plugins that resolve classes themselves.
// LoadClass returns nil when nothing is bound to the capability.
type ClassLoading interface {
	LoadClass(capability Capability) (any, error)
}

// BaseDescriptor is the default Descriptor. It matches its ids and aliases.
type BaseDescriptor struct {
	ids         []string
	aliases     []string
	name        string
	typ         Type
	classes     map[Capability]string
	group       string
	description string
	category    string
	libraries   []string
}

// DescriptorOption configures a BaseDescriptor.
type DescriptorOption func(*BaseDescriptor)

// WithName sets the display name. It defaults to the primary id.
func WithName(name string) DescriptorOption {
	return func(d *BaseDescriptor) {
		d.name = name
	}
}

// WithClass binds a capability to an implementation class.
func WithClass(capability Capability, className string) DescriptorOption {
	return func(d *BaseDescriptor) {
		d.classes[capability] = className
	}
}

// WithClasses binds several capabilities at once.
func WithClasses(classes map[Capability]string) DescriptorOption {
	return func(d *BaseDescriptor) {
		for c, name := range classes {
			d.classes[c] = name
		}
	}
}

// WithGroup sets the isolation group tag.
func WithGroup(group string) DescriptorOption {
	return func(d *BaseDescriptor) {
		d.group = group
	}
}

// WithAliases adds identifiers that match without being listed in IDs.
func WithAliases(aliases ...string) DescriptorOption {
	return func(d *BaseDescriptor) {
		d.aliases = append(d.aliases, aliases...)
	}
}

// WithDescription sets the description.
func WithDescription(description string) DescriptorOption {
	return func(d *BaseDescriptor) {
		d.description = description
	}
}

// WithCategory sets the category.
func WithCategory(category string) DescriptorOption {
	return func(d *BaseDescriptor) {
		d.category = category
	}
}

// WithLibraries sets the code units attached to the plugin's domain.
func WithLibraries(libraries ...string) DescriptorOption {
	return func(d *BaseDescriptor) {
		d.libraries = append(d.libraries, libraries...)
	}
}

// NewDescriptor creates a descriptor of type t answering to ids.
func NewDescriptor(t Type, ids []string, opts ...DescriptorOption) *BaseDescriptor {
	d := &BaseDescriptor{
		ids:     slices.Clone(ids),
		typ:     t,
		classes: make(map[Capability]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.name == "" && len(d.ids) > 0 {
		d.name = d.ids[0]
	}
	return d
}

// IDs returns a copy of the plugin identifiers.
func (d *BaseDescriptor) IDs() []string {
	return slices.Clone(d.ids)
}

// Aliases returns a copy of the alias identifiers.
func (d *BaseDescriptor) Aliases() []string {
	return slices.Clone(d.aliases)
}

// Name returns the display name.
func (d *BaseDescriptor) Name() string {
	return d.name
}

// Type returns the owning extension point.
func (d *BaseDescriptor) Type() Type {
	return d.typ
}

// Matches reports whether id is one of the ids or aliases.
func (d *BaseDescriptor) Matches(id string) bool {
	return slices.Contains(d.ids, id) || slices.Contains(d.aliases, id)
}

// ClassMap returns a copy of the class bindings.
func (d *BaseDescriptor) ClassMap() map[Capability]string {
	classes := make(map[Capability]string, len(d.classes))
	for c, name := range d.classes {
		classes[c] = name
	}
	return classes
}

// Group returns the isolation group tag.
func (d *BaseDescriptor) Group() string {
	return d.group
}

// Description returns the description.
func (d *BaseDescriptor) Description() string {
	return d.description
}

// Category returns the category.
func (d *BaseDescriptor) Category() string {
	return d.category
}

// Libraries returns a copy of the attached code units.
func (d *BaseDescriptor) Libraries() []string {
	return slices.Clone(d.libraries)
}

// String returns a short representation.
func (d *BaseDescriptor) String() string {
	return fmt.Sprintf("%s/%s", d.typ, strings.Join(d.ids, ","))
}

// PatternDescriptor matches glob patterns in addition to its ids and
// aliases, e.g. "log-*".
type PatternDescriptor struct {
	*BaseDescriptor

	patterns []string
	globs    []glob.Glob
}

// NewPatternDescriptor wraps base with glob patterns.
func NewPatternDescriptor(base *BaseDescriptor, patterns ...string) (*PatternDescriptor, error) {
	d := &PatternDescriptor{BaseDescriptor: base}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidDescriptor, p, err)
		}
		d.patterns = append(d.patterns, p)
		d.globs = append(d.globs, g)
	}
	return d, nil
}

// Patterns returns the source patterns.
func (d *PatternDescriptor) Patterns() []string {
	return slices.Clone(d.patterns)
}

// Matches reports whether id matches an id, an alias or a pattern.
func (d *PatternDescriptor) Matches(id string) bool {
	if d.BaseDescriptor.Matches(id) {
		return true
	}
	for _, g := range d.globs {
		if g.Match(id) {
			return true
		}
	}
	return false
}

// validateDescriptor checks the registration preconditions.
func validateDescriptor(t Type, d Descriptor) error {
	if d == nil {
		return ErrNilDescriptor
	}
	if v := reflect.ValueOf(d); v.Kind() == reflect.Pointer && v.IsNil() {
		return ErrNilDescriptor
	}
	if !reflect.TypeOf(d).Comparable() {
		return fmt.Errorf("%w: %T is not comparable", ErrInvalidDescriptor, d)
	}
	if d.Type() != t {
		return fmt.Errorf("%w: descriptor has type %s, registering under %s", ErrTypeMismatch, d.Type(), t)
	}
	ids := d.IDs()
	if len(ids) == 0 {
		return fmt.Errorf("%w: no ids", ErrInvalidDescriptor)
	}
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id at index %d", ErrInvalidDescriptor, i)
		}
	}
	return nil
}

// primaryID returns the first id of d.
func primaryID(d Descriptor) string {
	ids := d.IDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// librariesOf returns the code units of d, if any.
func librariesOf(d Descriptor) []string {
	if lp, ok := d.(LibraryProvider); ok {
		return lp.Libraries()
	}
	return nil
}

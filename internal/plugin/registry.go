package plugin

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/go-logr/logr"
)

// Registry maps extension-point types to their registered descriptors and
// coordinates isolation domains and class resolution.
//
// A Registry is safe for concurrent use. Callers construct and inject it;
// there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	buckets map[Type]*bucket
	types   map[Type]TypeInfo
	closed  bool

	loader    Loader
	domains   *DomainManager
	factories *factoryTable
	events    *eventBus
	log       logr.Logger
}

// bucket holds the descriptors of one type in registration order.
type bucket struct {
	mu          sync.RWMutex
	descriptors []Descriptor
}

// TypeInfo describes an extension-point type.
type TypeInfo struct {
	Type        Type
	Name        string
	Description string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader sets the loading mechanism used for isolation domains.
func WithLoader(loader Loader) Option {
	return func(r *Registry) {
		if loader != nil {
			r.loader = loader
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

// NewRegistry creates an empty registry. Without WithLoader, contexts can
// be created and shared but cannot instantiate classes.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		buckets:   make(map[Type]*bucket),
		types:     make(map[Type]TypeInfo),
		loader:    emptyLoader{},
		factories: newFactoryTable(),
		events:    newEventBus(),
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.domains = NewDomainManager(r.loader, r.log.WithName("domains"))
	return r
}

// bucket returns the bucket for t, creating it when create is set.
func (r *Registry) bucket(t Type, create bool) (*bucket, error) {
	r.mu.RLock()
	b, ok := r.buckets[t]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if ok || !create {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if b, ok = r.buckets[t]; !ok {
		b = &bucket{}
		r.buckets[t] = b
	}
	return b, nil
}

// DefineType records display information for an extension-point type.
func (r *Registry) DefineType(info TypeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[info.Type] = info
}

// TypeInfo returns the information for t. Undefined types get a title-cased
// display name.
func (r *Registry) TypeInfo(t Type) TypeInfo {
	r.mu.RLock()
	info, ok := r.types[t]
	r.mu.RUnlock()
	if !ok {
		info = TypeInfo{Type: t}
	}
	if info.Name == "" {
		info.Name = displayName(t)
	}
	return info
}

// Register adds d to the bucket of t and binds it to an isolation domain.
// The descriptor is visible to lookups as soon as Register returns.
//
// Several descriptors may answer to the same id; registering the identical
// descriptor value twice returns ErrAlreadyRegistered.
func (r *Registry) Register(t Type, d Descriptor) error {
	if err := validateDescriptor(t, d); err != nil {
		return err
	}
	b, err := r.bucket(t, true)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if slices.Contains(b.descriptors, d) {
		b.mu.Unlock()
		return fmt.Errorf("plugin %q of type %s: %w", primaryID(d), t, ErrAlreadyRegistered)
	}
	dom, err := r.domains.Bind(d)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("bind plugin %q of type %s: %w", primaryID(d), t, err)
	}
	b.descriptors = append(b.descriptors, d)
	b.mu.Unlock()

	r.log.V(1).Info("registered plugin", "type", string(t), "id", primaryID(d), "domain", dom.Key().String())
	r.events.emit(Event{Type: EventRegistered, PluginType: t, ID: primaryID(d), Domain: dom.Key()})
	return nil
}

// Remove unregisters d from t and releases its domain membership.
// Supplemental factories whose id no longer matches any descriptor of t are
// discarded. Removing a descriptor that is not registered is a no-op.
func (r *Registry) Remove(t Type, d Descriptor) error {
	if d == nil {
		return ErrNilDescriptor
	}
	if !reflect.TypeOf(d).Comparable() {
		return nil
	}
	b, err := r.bucket(t, false)
	if err != nil || b == nil {
		return nil
	}

	b.mu.Lock()
	i := slices.Index(b.descriptors, d)
	if i < 0 {
		b.mu.Unlock()
		return nil
	}
	b.descriptors = slices.Delete(b.descriptors, i, i+1)
	dom, _ := r.domains.Domain(d)
	remaining, _ := r.domains.Release(d)
	pruned := r.factories.prune(t, func(id string) bool {
		return matchesAny(b.descriptors, id)
	})
	b.mu.Unlock()

	id := primaryID(d)
	r.log.V(1).Info("removed plugin", "type", string(t), "id", id, "factoriesDropped", len(pruned))

	events := []Event{{Type: EventRemoved, PluginType: t, ID: id}}
	for _, key := range pruned {
		events = append(events, Event{Type: EventFactoryRemoved, PluginType: t, ID: key.id, Capability: key.capability})
	}
	if dom != nil {
		events[0].Domain = dom.Key()
		switch {
		case remaining == 0:
			events = append(events, Event{Type: EventDomainDisposed, PluginType: t, ID: id, Domain: dom.Key()})
		case dom.Shared():
			events = append(events, Event{Type: EventDomainRecycled, PluginType: t, ID: id, Domain: dom.Key()})
		}
	}
	r.events.emit(events...)
	return nil
}

// FindMatches returns the descriptors of t whose Matches(id) is true, in
// registration order.
func (r *Registry) FindMatches(t Type, id string) []Descriptor {
	b, _ := r.bucket(t, false)
	if b == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var matches []Descriptor
	for _, d := range b.descriptors {
		if d.Matches(id) {
			matches = append(matches, d)
		}
	}
	return matches
}

// Find returns the first descriptor of t matching id.
func (r *Registry) Find(t Type, id string) (Descriptor, error) {
	matches := r.FindMatches(t, id)
	if len(matches) == 0 {
		return nil, fmt.Errorf("plugin %q of type %s: %w", id, t, ErrPluginNotFound)
	}
	return matches[0], nil
}

// Plugins returns the descriptors of t in registration order.
func (r *Registry) Plugins(t Type) []Descriptor {
	b, _ := r.bucket(t, false)
	if b == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.descriptors)
}

// Count returns the number of descriptors registered for t.
func (r *Registry) Count(t Type) int {
	b, _ := r.bucket(t, false)
	if b == nil {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.descriptors)
}

// Types returns every type that has registered descriptors or type
// information, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.buckets)+len(r.types))
	for t, b := range r.buckets {
		b.mu.RLock()
		n := len(b.descriptors)
		b.mu.RUnlock()
		if n > 0 {
			types = append(types, t)
		}
	}
	for t := range r.types {
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return types
}

// ClassLoader returns the loadable-code context bound to d. Descriptors of
// the same type and group share one context until the group's membership
// changes.
func (r *Registry) ClassLoader(d Descriptor) (Context, error) {
	if d == nil {
		return nil, ErrNilDescriptor
	}
	return r.domains.Context(d)
}

// Domains returns a snapshot of the isolation domains.
func (r *Registry) Domains() []DomainInfo {
	return r.domains.Snapshot()
}

// Subscribe adds an event handler and returns a function removing it.
func (r *Registry) Subscribe(handler EventHandler) func() {
	return r.events.subscribe(handler)
}

// Close unregisters every descriptor, drops all factories and closes every
// domain context. The registry rejects registrations afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	buckets := r.buckets
	r.buckets = make(map[Type]*bucket)
	r.mu.Unlock()

	for _, b := range buckets {
		b.mu.Lock()
		b.descriptors = nil
		b.mu.Unlock()
	}
	r.factories.clear()
	return r.domains.Close()
}

func matchesAny(descriptors []Descriptor, id string) bool {
	for _, d := range descriptors {
		if d.Matches(id) {
			return true
		}
	}
	return false
}

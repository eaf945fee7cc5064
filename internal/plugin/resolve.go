package plugin

import "fmt"

// LoadClass resolves an implementation of capability for the plugin of t
// answering to id.
//
// A supplemental factory added under id itself takes precedence and is
// invoked on every call. Otherwise the matching descriptors are tried in
// registration order; the first one that binds the capability wins.
func (r *Registry) LoadClass(t Type, id string, capability Capability) (any, error) {
	matches := r.FindMatches(t, id)
	if len(matches) == 0 {
		return nil, fmt.Errorf("plugin %q of type %s: %w", id, t, ErrPluginNotFound)
	}

	if f, ok := r.factories.get(t, id, capability); ok {
		if v := f(); v != nil {
			return v, nil
		}
	}

	for _, d := range matches {
		v, ok, err := r.resolve(d, id, capability)
		if ok {
			return v, err
		}
	}
	return nil, &ClassMapError{Type: t, ID: id, Capability: capability}
}

// LoadClassFrom resolves capability for a descriptor instance, the same way
// LoadClass resolves it for each matching descriptor.
func (r *Registry) LoadClassFrom(d Descriptor, capability Capability) (any, error) {
	if d == nil {
		return nil, ErrNilDescriptor
	}
	id := primaryID(d)
	v, ok, err := r.resolve(d, id, capability)
	if !ok {
		return nil, &ClassMapError{Type: d.Type(), ID: id, Capability: capability}
	}
	return v, err
}

// resolve tries, for d: a supplemental factory added under any id d answers
// to, the class map, then the plugin's own class loading. ok is false when
// none of them binds capability.
func (r *Registry) resolve(d Descriptor, id string, capability Capability) (v any, ok bool, err error) {
	if f, found := r.factories.lookup(d, capability); found {
		if v := f(); v != nil {
			return v, true, nil
		}
	}
	if className, found := d.ClassMap()[capability]; found {
		v, err := r.instantiate(d, className)
		return v, true, err
	}
	if cl, found := d.(ClassLoading); found {
		v, err := cl.LoadClass(capability)
		if err != nil {
			return nil, true, &LoadError{Type: d.Type(), ID: id, Err: err}
		}
		if v != nil {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// instantiate creates className in d's domain without holding registry
// locks.
func (r *Registry) instantiate(d Descriptor, className string) (any, error) {
	t, id := d.Type(), primaryID(d)

	v, err := r.domains.Instantiate(d, className)
	if err != nil {
		r.log.V(1).Info("instantiate failed", "type", string(t), "id", id, "class", className, "error", err.Error())
		return nil, &LoadError{Type: t, ID: id, Class: className, Err: err}
	}
	return v, nil
}

// AddClassFactory layers a factory for capability over the plugins of t
// matching id. A plugin matching id must be registered; the factory never
// creates descriptors. Adding a factory for an existing key replaces it.
func (r *Registry) AddClassFactory(t Type, capability Capability, id string, f Factory) error {
	if f == nil {
		return ErrNilFactory
	}
	b, err := r.bucket(t, false)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("plugin %q of type %s: %w", id, t, ErrPluginNotFound)
	}

	// Hold the bucket so a concurrent Remove cannot orphan the factory.
	b.mu.RLock()
	if !matchesAny(b.descriptors, id) {
		b.mu.RUnlock()
		return fmt.Errorf("plugin %q of type %s: %w", id, t, ErrPluginNotFound)
	}
	r.factories.set(t, id, capability, f)
	b.mu.RUnlock()

	r.log.V(1).Info("added class factory", "type", string(t), "id", id, "capability", string(capability))
	r.events.emit(Event{Type: EventFactoryAdded, PluginType: t, ID: id, Capability: capability})
	return nil
}

// RemoveClassFactory drops the factory for (t, id, capability) and reports
// whether one was present.
func (r *Registry) RemoveClassFactory(t Type, capability Capability, id string) bool {
	if !r.factories.remove(t, id, capability) {
		return false
	}
	r.events.emit(Event{Type: EventFactoryRemoved, PluginType: t, ID: id, Capability: capability})
	return true
}

// Factories returns the capabilities layered onto (t, id) by supplemental
// factories.
func (r *Registry) Factories(t Type, id string) []Capability {
	return r.factories.capabilities(t, id)
}

// AddFactory registers a typed factory under the capability of T.
func AddFactory[T any](r *Registry, t Type, id string, f func() T) error {
	if f == nil {
		return ErrNilFactory
	}
	return r.AddClassFactory(t, CapabilityOf[T](), id, func() any { return f() })
}

// Load resolves the capability of T for the plugin of t answering to id and
// asserts the result.
func Load[T any](r *Registry, t Type, id string) (T, error) {
	var zero T
	capability := CapabilityOf[T]()
	v, err := r.LoadClass(t, id, capability)
	if err != nil {
		return zero, err
	}
	impl, ok := v.(T)
	if !ok {
		return zero, &LoadError{Type: t, ID: id, Err: fmt.Errorf("%T does not implement %s", v, capability)}
	}
	return impl, nil
}

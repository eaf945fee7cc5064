package plugin

import (
	"slices"
	"sync"
)

// Factory produces an implementation instance. Factories are invoked on
// every resolution; results are not cached.
type Factory func() any

type factoryKey struct {
	typ        Type
	id         string
	capability Capability
}

// factoryTable holds supplemental factories layered over descriptors
// without mutating them.
type factoryTable struct {
	mu        sync.RWMutex
	factories map[factoryKey]Factory
}

func newFactoryTable() *factoryTable {
	return &factoryTable{factories: make(map[factoryKey]Factory)}
}

// set stores f, replacing any previous factory for the key.
func (t *factoryTable) set(typ Type, id string, capability Capability, f Factory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories[factoryKey{typ, id, capability}] = f
}

func (t *factoryTable) get(typ Type, id string, capability Capability) (Factory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.factories[factoryKey{typ, id, capability}]
	return f, ok
}

// lookup returns the factory for capability that applies to d. A factory
// applies to every descriptor answering to the id it was added under. Ids
// of d are tried in order first, then any other id d matches in sorted
// order.
func (t *factoryTable) lookup(d Descriptor, capability Capability) (Factory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	typ := d.Type()
	for _, id := range d.IDs() {
		if f, ok := t.factories[factoryKey{typ, id, capability}]; ok {
			return f, true
		}
	}

	var (
		found Factory
		best  string
	)
	for key, f := range t.factories {
		if key.typ != typ || key.capability != capability {
			continue
		}
		if (found == nil || key.id < best) && d.Matches(key.id) {
			found, best = f, key.id
		}
	}
	return found, found != nil
}

func (t *factoryTable) remove(typ Type, id string, capability Capability) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := factoryKey{typ, id, capability}
	if _, ok := t.factories[key]; !ok {
		return false
	}
	delete(t.factories, key)
	return true
}

// prune drops every factory of typ whose id is no longer kept and returns
// the dropped keys.
func (t *factoryTable) prune(typ Type, keep func(id string) bool) []factoryKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []factoryKey
	for key := range t.factories {
		if key.typ == typ && !keep(key.id) {
			delete(t.factories, key)
			dropped = append(dropped, key)
		}
	}
	return dropped
}

// capabilities returns the capabilities layered onto (typ, id), sorted.
func (t *factoryTable) capabilities(typ Type, id string) []Capability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var caps []Capability
	for key := range t.factories {
		if key.typ == typ && key.id == id {
			caps = append(caps, key.capability)
		}
	}
	slices.Sort(caps)
	return caps
}

func (t *factoryTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories = make(map[factoryKey]Factory)
}

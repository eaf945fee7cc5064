package plugin

import (
	"slices"
	"sync"
)

// EventType is the type of registry event.
type EventType int

const (
	// EventRegistered is emitted when a descriptor is registered.
	EventRegistered EventType = iota
	// EventRemoved is emitted when a descriptor is removed.
	EventRemoved
	// EventFactoryAdded is emitted when a supplemental factory is set.
	EventFactoryAdded
	// EventFactoryRemoved is emitted when supplemental factories are dropped.
	EventFactoryRemoved
	// EventDomainRecycled is emitted when a shared domain loses a member and
	// its context is discarded for the remaining members.
	EventDomainRecycled
	// EventDomainDisposed is emitted when a domain loses its last member.
	EventDomainDisposed
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventRemoved:
		return "removed"
	case EventFactoryAdded:
		return "factory-added"
	case EventFactoryRemoved:
		return "factory-removed"
	case EventDomainRecycled:
		return "domain-recycled"
	case EventDomainDisposed:
		return "domain-disposed"
	default:
		return "unknown"
	}
}

// Event describes a registry change.
type Event struct {
	Type       EventType
	PluginType Type
	ID         string
	Capability Capability
	Domain     DomainKey
}

// EventHandler handles registry events.
// Handlers must not block and must not call back into mutating registry
// methods. Panics in handlers are recovered.
type EventHandler func(event Event)

type eventBus struct {
	mu       sync.RWMutex
	handlers map[int]EventHandler
	next     int
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[int]EventHandler)}
}

func (b *eventBus) subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// emit calls the handlers in subscription order outside the bus lock.
func (b *eventBus) emit(events ...Event) {
	if len(events) == 0 {
		return
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	handlers := make(map[int]EventHandler, len(b.handlers))
	for id, h := range b.handlers {
		handlers[id] = h
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, event := range events {
		for _, id := range ids {
			func() {
				defer func() {
					recover() // Ignore panics from handlers
				}()
				handlers[id](event)
			}()
		}
	}
}

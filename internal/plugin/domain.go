package plugin

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
)

// DomainKey identifies an isolation domain. Shared domains are scoped per
// extension-point type, so equal tags on different types never share code.
type DomainKey struct {
	Type  Type
	Group string
}

// String returns "type/group", or "type/-" for a private domain.
func (k DomainKey) String() string {
	if k.Group == "" {
		return string(k.Type) + "/-"
	}
	return string(k.Type) + "/" + k.Group
}

// DomainInfo is a snapshot of one isolation domain.
type DomainInfo struct {
	Key        DomainKey
	Shared     bool
	Members    []string
	Generation int
	ContextID  string
}

// Domain is a shared or private loadable-code context and its members.
type Domain struct {
	key    DomainKey
	shared bool
	loader Loader
	log    logr.Logger

	// refs counts bindings, including joins in progress. Guarded by the
	// manager's lock.
	refs int

	mu         sync.Mutex
	members    []Descriptor
	cur        *lease
	generation int
	disposed   bool
}

// lease is one context generation and the resolutions running on it.
type lease struct {
	ctx     Context
	users   int
	retired bool
}

func newDomain(key DomainKey, shared bool, loader Loader, log logr.Logger) *Domain {
	return &Domain{key: key, shared: shared, loader: loader, log: log}
}

// Key returns the domain key.
func (d *Domain) Key() DomainKey {
	return d.key
}

// Shared reports whether the domain belongs to a group.
func (d *Domain) Shared() bool {
	return d.shared
}

// Members returns the current member count.
func (d *Domain) Members() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.members)
}

// context returns the live context, creating it once per generation.
func (d *Domain) context() (Context, error) {
	l, err := d.live()
	if err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	return l.ctx, nil
}

// acquire returns the live lease with one more user. Every acquire is
// paired with a release.
func (d *Domain) acquire() (*lease, error) {
	l, err := d.live()
	if err != nil {
		return nil, err
	}
	l.users++
	d.mu.Unlock()
	return l, nil
}

// live returns the current lease, building it when needed. On success it
// returns with d.mu held.
func (d *Domain) live() (*lease, error) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil, fmt.Errorf("domain %s: %w", d.key, ErrNotRegistered)
	}
	if d.cur == nil {
		if err := d.build(); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}
	return d.cur, nil
}

// release drops a user from l. It returns the context to close when l was
// retired and this was its last user.
func (d *Domain) release(l *lease) Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	l.users--
	if l.retired && l.users == 0 {
		return l.ctx
	}
	return nil
}

// build creates a context and attaches the libraries of every member.
// Members whose libraries no longer attach are logged and skipped so the
// rest of the group stays usable. d.mu must be held.
func (d *Domain) build() error {
	ctx, err := d.loader.NewContext(d.key.String())
	if err != nil {
		return fmt.Errorf("create context for domain %s: %w", d.key, err)
	}
	for _, m := range d.members {
		libs := librariesOf(m)
		if len(libs) == 0 {
			continue
		}
		if err := ctx.Attach(libs); err != nil {
			d.log.Error(err, "skipping plugin libraries", "domain", d.key.String(), "plugin", primaryID(m))
		}
	}
	d.cur = &lease{ctx: ctx}
	d.generation++
	return nil
}

// retire detaches the current lease. It returns the context when nothing
// is using it; otherwise the last release returns it. d.mu must be held.
func (d *Domain) retire() Context {
	l := d.cur
	d.cur = nil
	if l == nil {
		return nil
	}
	l.retired = true
	if l.users > 0 {
		return nil
	}
	return l.ctx
}

// join adds m. A member with libraries is attached right away, building
// the context if the domain has none, so a broken library fails the join
// instead of a later resolution. A context built for a domain that still has
// no members is discarded on failure and returned as stale.
func (d *Domain) join(m Descriptor) (stale Context, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return nil, fmt.Errorf("domain %s: %w", d.key, ErrRegistryClosed)
	}
	if libs := librariesOf(m); len(libs) > 0 {
		if d.cur == nil {
			if err := d.build(); err != nil {
				return nil, err
			}
		}
		if err := d.cur.ctx.Attach(libs); err != nil {
			if len(d.members) == 0 {
				stale = d.retire()
			}
			return stale, fmt.Errorf("attach %q to domain %s: %w", primaryID(m), d.key, err)
		}
	}
	d.members = append(d.members, m)
	return nil, nil
}

// leave removes m and retires the live context: remaining members get a
// fresh context on next access. The last member disposes the domain.
func (d *Domain) leave(m Descriptor, last bool) (stale Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i := slices.Index(d.members, m); i >= 0 {
		d.members = slices.Delete(d.members, i, i+1)
	}
	if last {
		d.disposed = true
	}
	return d.retire()
}

// dispose retires the context and marks the domain unusable.
func (d *Domain) dispose() Context {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.members = nil
	d.disposed = true
	return d.retire()
}

func (d *Domain) info() DomainInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := DomainInfo{
		Key:        d.key,
		Shared:     d.shared,
		Members:    make([]string, 0, len(d.members)),
		Generation: d.generation,
	}
	for _, m := range d.members {
		info.Members = append(info.Members, primaryID(m))
	}
	if d.cur != nil {
		info.ContextID = d.cur.ctx.ID()
	}
	return info
}

// DomainManager binds descriptors to isolation domains and reference-counts
// shared domains by key.
type DomainManager struct {
	loader Loader
	log    logr.Logger

	mu       sync.Mutex
	shared   map[DomainKey]*Domain
	bindings map[Descriptor]*Domain
}

// NewDomainManager creates a manager that creates contexts with loader.
func NewDomainManager(loader Loader, log logr.Logger) *DomainManager {
	return &DomainManager{
		loader:   loader,
		log:      log,
		shared:   make(map[DomainKey]*Domain),
		bindings: make(map[Descriptor]*Domain),
	}
}

// Bind associates d with a private domain, or with the shared domain of its
// group, creating the shared domain for the first member. The manager lock
// only covers the bookkeeping; libraries attach under the domain's lock.
func (m *DomainManager) Bind(d Descriptor) (*Domain, error) {
	m.mu.Lock()
	if _, exists := m.bindings[d]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyRegistered
	}

	key := DomainKey{Type: d.Type(), Group: d.Group()}
	dom, created := m.shared[key], false
	if key.Group == "" {
		dom, created = newDomain(key, false, m.loader, m.log), true
	} else if dom == nil {
		dom, created = newDomain(key, true, m.loader, m.log), true
		m.shared[key] = dom
	}
	m.bindings[d] = dom
	dom.refs++
	m.mu.Unlock()

	stale, err := dom.join(d)
	m.closeContext(dom, stale)
	if err != nil {
		m.unbind(d, dom)
		return nil, err
	}

	m.log.V(1).Info("bound descriptor", "plugin", primaryID(d), "domain", key.String(), "created", created)
	return dom, nil
}

// unbind rolls back a binding whose join failed.
func (m *DomainManager) unbind(d Descriptor, dom *Domain) {
	m.mu.Lock()
	if m.bindings[d] == dom {
		delete(m.bindings, d)
	}
	dom.refs--
	empty := dom.refs == 0
	if empty && dom.shared && m.shared[dom.key] == dom {
		delete(m.shared, dom.key)
	}
	m.mu.Unlock()

	if empty {
		m.closeContext(dom, dom.dispose())
	}
}

// Release drops d's membership. A domain without members is discarded; a
// shared domain that keeps members is recycled. It reports whether d was
// bound and how many members remain.
func (m *DomainManager) Release(d Descriptor) (remaining int, ok bool) {
	m.mu.Lock()
	dom, ok := m.bindings[d]
	if !ok {
		m.mu.Unlock()
		return 0, false
	}
	delete(m.bindings, d)
	dom.refs--
	remaining = dom.refs
	if remaining == 0 && dom.shared && m.shared[dom.key] == dom {
		delete(m.shared, dom.key)
	}
	m.mu.Unlock()

	m.closeContext(dom, dom.leave(d, remaining == 0))
	m.log.V(1).Info("released descriptor", "plugin", primaryID(d), "domain", dom.key.String(), "remaining", remaining)
	return remaining, true
}

func (m *DomainManager) closeContext(dom *Domain, ctx Context) {
	if ctx == nil {
		return
	}
	if err := ctx.Close(); err != nil {
		m.log.Error(err, "closing domain context", "domain", dom.key.String(), "context", ctx.ID())
	}
}

// Domain returns the domain bound to d.
func (m *DomainManager) Domain(d Descriptor) (*Domain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dom, ok := m.bindings[d]
	return dom, ok
}

// Context returns the live context of d's domain, creating it on first use.
func (m *DomainManager) Context(d Descriptor) (Context, error) {
	dom, ok := m.Domain(d)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", primaryID(d), ErrNotRegistered)
	}
	return dom.context()
}

// Instantiate creates className in d's domain. A context recycled while the
// instance is being created stays open until the call returns.
func (m *DomainManager) Instantiate(d Descriptor, className string) (any, error) {
	dom, ok := m.Domain(d)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", primaryID(d), ErrNotRegistered)
	}
	l, err := dom.acquire()
	if err != nil {
		return nil, err
	}
	v, err := l.ctx.Instantiate(className)
	m.closeContext(dom, dom.release(l))
	return v, err
}

// Snapshot returns all live domains ordered by key.
func (m *DomainManager) Snapshot() []DomainInfo {
	m.mu.Lock()
	seen := make(map[*Domain]bool, len(m.bindings))
	domains := make([]*Domain, 0, len(m.bindings))
	for _, dom := range m.bindings {
		if !seen[dom] {
			seen[dom] = true
			domains = append(domains, dom)
		}
	}
	m.mu.Unlock()

	infos := make([]DomainInfo, 0, len(domains))
	for _, dom := range domains {
		// Domains whose only binding is still joining are not shown.
		if info := dom.info(); len(info.Members) > 0 {
			infos = append(infos, info)
		}
	}
	slices.SortFunc(infos, func(a, b DomainInfo) int {
		if c := cmp.Compare(a.Key.Type, b.Key.Type); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key.Group, b.Key.Group); c != 0 {
			return c
		}
		return slices.Compare(a.Members, b.Members)
	})
	return infos
}

// Close disposes every domain and closes their contexts.
func (m *DomainManager) Close() error {
	m.mu.Lock()
	seen := make(map[*Domain]bool, len(m.bindings))
	for _, dom := range m.bindings {
		seen[dom] = true
	}
	m.shared = make(map[DomainKey]*Domain)
	m.bindings = make(map[Descriptor]*Domain)
	m.mu.Unlock()

	var errs []error
	for dom := range seen {
		if ctx := dom.dispose(); ctx != nil {
			if err := ctx.Close(); err != nil {
				errs = append(errs, fmt.Errorf("domain %s: %w", dom.key, err))
			}
		}
	}
	return errors.Join(errs...)
}

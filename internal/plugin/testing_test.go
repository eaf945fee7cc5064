package plugin

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"
)

// fakeLoader creates in-memory contexts and records them.
type fakeLoader struct {
	mu       sync.Mutex
	contexts []*fakeContext
	created  atomic.Int32
	failing  map[string]error
	broken   map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{failing: make(map[string]error), broken: make(map[string]error)}
}

func (l *fakeLoader) NewContext(name string) (Context, error) {
	n := l.created.Add(1)
	ctx := &fakeContext{id: fmt.Sprintf("%s#%d", name, n), loader: l}
	l.mu.Lock()
	l.contexts = append(l.contexts, ctx)
	l.mu.Unlock()
	return ctx, nil
}

// fail makes Instantiate of className return err in every context.
func (l *fakeLoader) fail(className string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing[className] = err
}

// failAttach makes Attach of library return err in every context.
func (l *fakeLoader) failAttach(library string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broken[library] = err
}

func (l *fakeLoader) last() *fakeContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contexts[len(l.contexts)-1]
}

type fakeContext struct {
	id     string
	loader *fakeLoader

	mu        sync.Mutex
	libraries []string
	closed    bool
}

// fakeInstance is the product of fakeContext.Instantiate.
type fakeInstance struct {
	Class   string
	Context string
}

func (c *fakeContext) ID() string { return c.id }

func (c *fakeContext) Attach(libraries []string) error {
	c.loader.mu.Lock()
	for _, lib := range libraries {
		if err := c.loader.broken[lib]; err != nil {
			c.loader.mu.Unlock()
			return err
		}
	}
	c.loader.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.libraries = append(c.libraries, libraries...)
	return nil
}

func (c *fakeContext) Instantiate(className string) (any, error) {
	c.loader.mu.Lock()
	err := c.loader.failing[className]
	c.loader.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeInstance{Class: className, Context: c.id}, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeContext) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeContext) attached() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.libraries)
}

// gatedLoader blocks Attach of one library and Instantiate of one class
// until open is closed. entered receives once the call is blocked.
type gatedLoader struct {
	*fakeLoader
	library string
	class   string
	entered chan struct{}
	open    chan struct{}
}

func newGatedLoader(library, class string) *gatedLoader {
	return &gatedLoader{
		fakeLoader: newFakeLoader(),
		library:    library,
		class:      class,
		entered:    make(chan struct{}, 1),
		open:       make(chan struct{}),
	}
}

func (l *gatedLoader) NewContext(name string) (Context, error) {
	ctx, err := l.fakeLoader.NewContext(name)
	if err != nil {
		return nil, err
	}
	return &gatedContext{fakeContext: ctx.(*fakeContext), gate: l}, nil
}

func (l *gatedLoader) wait() {
	l.entered <- struct{}{}
	<-l.open
}

type gatedContext struct {
	*fakeContext
	gate *gatedLoader
}

func (c *gatedContext) Attach(libraries []string) error {
	if slices.Contains(libraries, c.gate.library) {
		c.gate.wait()
	}
	return c.fakeContext.Attach(libraries)
}

func (c *gatedContext) Instantiate(className string) (any, error) {
	if className == c.gate.class {
		c.gate.wait()
	}
	return c.fakeContext.Instantiate(className)
}

// MockLoader is a testify mock of Loader.
type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) NewContext(name string) (Context, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Context), args.Error(1)
}

// MockContext is a testify mock of Context.
type MockContext struct {
	mock.Mock
}

func (m *MockContext) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Attach(libraries []string) error {
	args := m.Called(libraries)
	return args.Error(0)
}

func (m *MockContext) Instantiate(className string) (any, error) {
	args := m.Called(className)
	return args.Get(0), args.Error(1)
}

func (m *MockContext) Close() error {
	args := m.Called()
	return args.Error(0)
}

// selfLoading is a descriptor that resolves classes itself.
type selfLoading struct {
	*BaseDescriptor
	impls map[Capability]any
	err   error
}

func (s *selfLoading) LoadClass(capability Capability) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.impls[capability], nil
}

// valueDescriptor is a non-comparable descriptor.
type valueDescriptor struct {
	ids []string
}

func (v valueDescriptor) IDs() []string                   { return v.ids }
func (v valueDescriptor) Name() string                    { return "value" }
func (v valueDescriptor) Type() Type                      { return "value" }
func (v valueDescriptor) Matches(id string) bool          { return slices.Contains(v.ids, id) }
func (v valueDescriptor) ClassMap() map[Capability]string { return nil }
func (v valueDescriptor) Group() string                   { return "" }

package lua

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/plugreg/internal/plugin"
)

// HostModule is the name of the module plugins require to reach the host.
const HostModule = "plugreg"

// Loader creates one sandboxed Lua state per isolation domain.
type Loader struct {
	timeout time.Duration
	grants  []Grant
	log     logr.Logger
}

var _ plugin.Loader = (*Loader)(nil)

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithTimeout sets the execution deadline of every chunk and call.
func WithTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = d
	}
}

// WithGrants enables sandbox grants in every state.
func WithGrants(grants ...Grant) LoaderOption {
	return func(l *Loader) {
		l.grants = append(l.grants, grants...)
	}
}

// WithLogger sets the logger used by the host module.
func WithLogger(log logr.Logger) LoaderOption {
	return func(l *Loader) {
		l.log = log
	}
}

// NewLoader creates a Lua loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{timeout: DefaultExecutionTimeout, log: logr.Discard()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewContext creates a fresh state for the domain name.
func (l *Loader) NewContext(name string) (plugin.Context, error) {
	c := &Context{
		id:       uuid.NewString(),
		name:     name,
		state:    NewState(WithExecutionTimeout(l.timeout)),
		attached: make(map[string]bool),
	}
	c.log = l.log.WithValues("domain", name, "context", c.id)

	for _, g := range l.grants {
		if err := c.state.Grant(g); err != nil {
			_ = c.state.Close()
			return nil, err
		}
	}
	if err := c.state.Preload(HostModule, c.hostModule); err != nil {
		_ = c.state.Close()
		return nil, err
	}
	return c, nil
}

// Context is a Lua isolation-domain context. Libraries attached to it run in
// one shared state, so they see each other's globals.
type Context struct {
	id    string
	name  string
	state *State
	log   logr.Logger

	mu       sync.Mutex
	attached map[string]bool
	order    []string
}

var _ plugin.Context = (*Context)(nil)

// ID returns the context id.
func (c *Context) ID() string {
	return c.id
}

// State returns the underlying state.
func (c *Context) State() *State {
	return c.state
}

// Attach executes each library once, in order.
func (c *Context) Attach(libraries []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, lib := range libraries {
		path := filepath.Clean(lib)
		if c.attached[path] {
			continue
		}
		if err := c.state.DoFile(path); err != nil {
			return fmt.Errorf("attach %q: %w", lib, err)
		}
		c.attached[path] = true
		c.order = append(c.order, path)
	}
	return nil
}

// Libraries returns the attached libraries in execution order.
func (c *Context) Libraries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.order)
}

// Instantiate resolves the dotted global path className. A function is
// called; a table with a new method has new called with the table as self;
// any other table is returned as a singleton instance.
func (c *Context) Instantiate(className string) (any, error) {
	var inst *Instance
	err := c.state.Do(func(L *lua.LState) error {
		v := lookup(L, className)
		switch v := v.(type) {
		case *lua.LNilType:
			return fmt.Errorf("%w: %s", ErrClassNotFound, className)
		case *lua.LFunction:
			ret, err := c.state.bridge.callRaw(v)
			if err != nil {
				return err
			}
			inst = &Instance{ctx: c, class: className, value: ret}
		case *lua.LTable:
			ctor := L.GetField(v, "new")
			if ctor.Type() != lua.LTFunction {
				inst = &Instance{ctx: c, class: className, value: v}
				return nil
			}
			ret, err := c.state.bridge.callRaw(ctor, v)
			if err != nil {
				return err
			}
			inst = &Instance{ctx: c, class: className, value: ret}
		default:
			return fmt.Errorf("%w: %s is a %s", ErrNotInstantiable, className, v.Type())
		}
		if inst.value == lua.LNil {
			return fmt.Errorf("%w: %s returned nil", ErrNotInstantiable, className)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Close closes the state.
func (c *Context) Close() error {
	return c.state.Close()
}

// lookup walks a dotted path from the globals table.
func lookup(L *lua.LState, path string) lua.LValue {
	var v lua.LValue = L.G.Global
	for _, part := range strings.Split(path, ".") {
		t, ok := v.(*lua.LTable)
		if !ok {
			return lua.LNil
		}
		v = L.GetField(t, part)
	}
	return v
}

// hostModule exposes the host to Lua:
//
//	local host = require("plugreg")
//	host.log("loaded", "count", 3)
//	host.context()
func (c *Context) hostModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"context": func(L *lua.LState) int {
			L.Push(lua.LString(c.id))
			return 1
		},
		"domain": func(L *lua.LState) int {
			L.Push(lua.LString(c.name))
			return 1
		},
		"log": func(L *lua.LState) int {
			msg := L.CheckString(1)
			var kv []any
			for i := 2; i <= L.GetTop(); i++ {
				kv = append(kv, c.state.bridge.ToGoValue(L.Get(i)))
			}
			c.log.Info(msg, kv...)
			return 0
		},
	})
	L.Push(mod)
	return 1
}

package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds a single chunk or call.
const DefaultExecutionTimeout = 5 * time.Second

// State wraps gopher-lua with sandboxing and serialized access.
//
// gopher-lua's LState is not goroutine-safe. Every access goes through Do,
// which holds the state mutex for the duration of the call.
type State struct {
	l *lua.LState

	mu sync.Mutex

	timeout time.Duration
	sandbox *Sandbox
	bridge  *Bridge
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout sets the deadline applied to each chunk or call.
// Zero disables the deadline.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// NewState creates a sandboxed Lua state.
func NewState(opts ...StateOption) *State {
	s := &State{timeout: DefaultExecutionTimeout}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	s.l = L
	s.sandbox = newSandbox(L)
	s.sandbox.install()
	s.bridge = NewBridge(L)
	return s
}

// openSafeLibraries opens the libraries that cannot reach the host.
// io, os and debug are only opened by GrantUnsafe.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	lua.OpenCoroutine(L)
}

// Do runs fn with exclusive access to the Lua state, the execution deadline
// and panic recovery.
func (s *State) Do(fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.l.SetContext(ctx)
		defer s.l.RemoveContext()
		defer func() {
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s: %v", ErrExecutionTimeout, s.timeout, err)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(s.l)
}

// DoFile executes a Lua file.
func (s *State) DoFile(path string) error {
	return s.Do(func(L *lua.LState) error {
		return L.DoFile(path)
	})
}

// DoString executes a Lua chunk.
func (s *State) DoString(code string) error {
	return s.Do(func(L *lua.LState) error {
		return L.DoString(code)
	})
}

// Global returns a global converted to a Go value.
func (s *State) Global(name string) (any, error) {
	var v any
	err := s.Do(func(L *lua.LState) error {
		v = s.bridge.ToGoValue(L.GetGlobal(name))
		return nil
	})
	return v, err
}

// Preload makes a Go module available to require.
func (s *State) Preload(name string, loader lua.LGFunction) error {
	return s.Do(func(L *lua.LState) error {
		s.sandbox.preload(name, loader)
		return nil
	})
}

// Grant enables a sandbox grant.
func (s *State) Grant(g Grant) error {
	return s.Do(func(L *lua.LState) error {
		return s.sandbox.grant(g)
	})
}

// Sandbox returns the sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// Bridge returns the value bridge. It must only be used inside Do.
func (s *State) Bridge() *Bridge {
	return s.bridge
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Further calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.sandbox.closeFiles()
	s.l.Close()
	s.closed = true
	return nil
}

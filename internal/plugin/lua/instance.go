package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Instance is an object created by a Lua class. It stays bound to the
// context that created it and fails with ErrStateClosed once that context is
// closed.
type Instance struct {
	ctx   *Context
	class string
	value lua.LValue
}

// Class returns the class path the instance was created from.
func (i *Instance) Class() string {
	return i.class
}

// ContextID returns the id of the owning context.
func (i *Instance) ContextID() string {
	return i.ctx.id
}

// Call invokes method with the instance as self.
func (i *Instance) Call(method string, args ...any) ([]any, error) {
	var results []any
	err := i.ctx.state.Do(func(L *lua.LState) error {
		fn, err := i.method(L, method)
		if err != nil {
			return err
		}
		results, err = i.ctx.state.bridge.Call(fn, append([]any{i.value}, args...)...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%s: %w", i.class, method, err)
	}
	return results, nil
}

// HasMethod reports whether the instance responds to method.
func (i *Instance) HasMethod(method string) bool {
	err := i.ctx.state.Do(func(L *lua.LState) error {
		_, err := i.method(L, method)
		return err
	})
	return err == nil
}

// Value converts the instance to a Go value.
func (i *Instance) Value() (any, error) {
	var v any
	err := i.ctx.state.Do(func(L *lua.LState) error {
		v = i.ctx.state.bridge.ToGoValue(i.value)
		return nil
	})
	return v, err
}

func (i *Instance) method(L *lua.LState, name string) (lua.LValue, error) {
	var fn lua.LValue = lua.LNil
	switch v := i.value.(type) {
	case *lua.LTable:
		fn = L.GetField(v, name)
	case *lua.LUserData:
		fn = L.GetField(v, name)
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	return fn, nil
}

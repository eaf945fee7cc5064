package lua

import (
	"bufio"
	"io"
	"os"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Grant is a permission extending what sandboxed code may do.
type Grant string

// Available grants.
const (
	// GrantFileRead exposes a read-only io module.
	GrantFileRead Grant = "filesystem.read"
	// GrantUnsafe opens the full io, os and debug libraries.
	GrantUnsafe Grant = "unsafe"
)

// Sandbox restricts a Lua state to safe operations.
type Sandbox struct {
	l *lua.LState

	grants  map[Grant]bool
	modules map[string]bool
	files   map[*readHandle]bool
}

var safeModules = []string{"string", "table", "math", "coroutine"}

func newSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		l:       L,
		grants:  make(map[Grant]bool),
		modules: make(map[string]bool),
		files:   make(map[*readHandle]bool),
	}
}

// install removes globals that load code from outside the state and
// replaces require with an allowlist.
func (s *Sandbox) install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.l.SetGlobal(name, lua.LNil)
	}

	pkg, ok := s.l.GetGlobal("package").(*lua.LTable)
	if ok {
		s.l.SetField(pkg, "path", lua.LString(""))
		s.l.SetField(pkg, "cpath", lua.LString(""))
	}

	original := s.l.GetGlobal("require")
	s.l.SetGlobal("require", s.l.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !s.allowed(name) {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

func (s *Sandbox) allowed(module string) bool {
	if slices.Contains(safeModules, module) || s.modules[module] {
		return true
	}
	switch module {
	case "io":
		return s.grants[GrantFileRead] || s.grants[GrantUnsafe]
	case "os", "debug":
		return s.grants[GrantUnsafe]
	}
	return false
}

// preload registers a Go module for require.
func (s *Sandbox) preload(name string, loader lua.LGFunction) {
	s.l.PreloadModule(name, loader)
	s.modules[name] = true
}

// grant enables g and installs its libraries.
func (s *Sandbox) grant(g Grant) error {
	switch g {
	case GrantFileRead:
		if !s.grants[GrantUnsafe] {
			s.installReadOnlyIO()
		}
	case GrantUnsafe:
		lua.OpenIo(s.l)
		lua.OpenOs(s.l)
		lua.OpenDebug(s.l)
	default:
		return &GrantError{Grant: g}
	}
	s.grants[g] = true
	return nil
}

// Granted reports whether g is enabled.
func (s *Sandbox) Granted(g Grant) bool {
	return s.grants[g]
}

// Grants returns the enabled grants, sorted.
func (s *Sandbox) Grants() []Grant {
	grants := make([]Grant, 0, len(s.grants))
	for g := range s.grants {
		grants = append(grants, g)
	}
	slices.Sort(grants)
	return grants
}

// installReadOnlyIO exposes io.open in read modes and io.lines.
func (s *Sandbox) installReadOnlyIO() {
	mod := s.l.NewTable()
	handle := s.fileMetatable()

	s.l.SetField(mod, "open", s.l.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if mode := L.OptString(2, "r"); mode != "r" && mode != "rb" {
			L.ArgError(2, "only read modes (r, rb) are allowed")
			return 0
		}
		f, err := os.Open(name)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		h := &readHandle{f: f, r: bufio.NewReader(f)}
		s.files[h] = true
		ud := L.NewUserData()
		ud.Value = h
		L.SetMetatable(ud, handle)
		L.Push(ud)
		return 1
	}))

	s.l.SetField(mod, "lines", s.l.NewFunction(func(L *lua.LState) int {
		content, err := os.ReadFile(L.CheckString(1))
		if err != nil {
			L.RaiseError("cannot open file: %s", err.Error())
			return 0
		}
		L.Push(linesIterator(L, string(content)))
		return 1
	}))

	s.l.SetGlobal("io", mod)
	if pkg, ok := s.l.GetGlobal("package").(*lua.LTable); ok {
		if loaded, ok := s.l.GetField(pkg, "loaded").(*lua.LTable); ok {
			loaded.RawSetString("io", mod)
		}
	}
}

type readHandle struct {
	f *os.File
	r *bufio.Reader
}

func (s *Sandbox) fileMetatable() *lua.LTable {
	mt := s.l.NewTable()
	index := s.l.NewTable()

	check := func(L *lua.LState) *readHandle {
		ud := L.CheckUserData(1)
		h, ok := ud.Value.(*readHandle)
		if !ok {
			L.ArgError(1, "expected file")
		}
		return h
	}

	s.l.SetField(index, "read", s.l.NewFunction(func(L *lua.LState) int {
		h := check(L)
		switch L.OptString(2, "*l") {
		case "*a", "*all", "a":
			b, err := io.ReadAll(h.r)
			if err != nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(b))
		default:
			line, err := h.r.ReadString('\n')
			if err != nil && line == "" {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(strings.TrimRight(line, "\r\n")))
		}
		return 1
	}))

	s.l.SetField(index, "lines", s.l.NewFunction(func(L *lua.LState) int {
		h := check(L)
		b, err := io.ReadAll(h.r)
		if err != nil {
			L.RaiseError("cannot read file: %s", err.Error())
			return 0
		}
		L.Push(linesIterator(L, string(b)))
		return 1
	}))

	s.l.SetField(index, "close", s.l.NewFunction(func(L *lua.LState) int {
		h := check(L)
		delete(s.files, h)
		if err := h.f.Close(); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	s.l.SetField(mt, "__index", index)
	return mt
}

// OpenFiles returns the number of files opened through io.open and not
// closed yet.
func (s *Sandbox) OpenFiles() int {
	return len(s.files)
}

// closeFiles closes the files Lua code left open.
func (s *Sandbox) closeFiles() {
	for h := range s.files {
		_ = h.f.Close()
	}
	clear(s.files)
}

func linesIterator(L *lua.LState, content string) *lua.LFunction {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	i := 0
	return L.NewFunction(func(L *lua.LState) int {
		if i >= len(lines) {
			return 0
		}
		L.Push(lua.LString(lines[i]))
		i++
		return 1
	})
}

package lua

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dshills/plugreg/internal/plugin"
)

func writeLua(t *testing.T, dir, name, code string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestContextInstantiate(t *testing.T) {
	dir := t.TempDir()
	lib := writeLua(t, dir, "codecs.lua", `
		codecs = {}

		codecs.Gzip = {}
		codecs.Gzip.__index = codecs.Gzip
		function codecs.Gzip:new()
			return setmetatable({level = 6}, self)
		end
		function codecs.Gzip:encode(s)
			return "gz(" .. s .. ")", self.level
		end

		function codecs.identity()
			return {name = "identity"}
		end

		codecs.Registry = {count = 2}
		codecs.broken = 42
	`)

	ctx, err := NewLoader().NewContext("codec/-")
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	defer ctx.Close()

	if err := ctx.Attach([]string{lib}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	v, err := ctx.Instantiate("codecs.Gzip")
	if err != nil {
		t.Fatalf("Instantiate(codecs.Gzip) error = %v", err)
	}
	inst := v.(*Instance)
	if inst.Class() != "codecs.Gzip" || inst.ContextID() != ctx.ID() {
		t.Errorf("instance = %s in %s", inst.Class(), inst.ContextID())
	}
	out, err := inst.Call("encode", "abc")
	if err != nil {
		t.Fatalf("Call(encode) error = %v", err)
	}
	if want := []any{"gz(abc)", int64(6)}; !reflect.DeepEqual(out, want) {
		t.Errorf("encode = %v, want %v", out, want)
	}
	if !inst.HasMethod("encode") || inst.HasMethod("decode") {
		t.Error("HasMethod() mismatch")
	}
	if _, err := inst.Call("decode", "x"); !errors.Is(err, ErrMethodNotFound) {
		t.Errorf("Call(decode) error = %v, want ErrMethodNotFound", err)
	}

	v, err = ctx.Instantiate("codecs.identity")
	if err != nil {
		t.Fatalf("Instantiate(codecs.identity) error = %v", err)
	}
	value, err := v.(*Instance).Value()
	if err != nil {
		t.Fatal(err)
	}
	if want := map[string]any{"name": "identity"}; !reflect.DeepEqual(value, want) {
		t.Errorf("identity value = %v, want %v", value, want)
	}

	v, err = ctx.Instantiate("codecs.Registry")
	if err != nil {
		t.Fatalf("Instantiate(codecs.Registry) error = %v", err)
	}
	value, _ = v.(*Instance).Value()
	if want := map[string]any{"count": int64(2)}; !reflect.DeepEqual(value, want) {
		t.Errorf("registry value = %v, want %v", value, want)
	}

	if _, err := ctx.Instantiate("codecs.Missing"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("Instantiate(missing) error = %v, want ErrClassNotFound", err)
	}
	if _, err := ctx.Instantiate("codecs.broken"); !errors.Is(err, ErrNotInstantiable) {
		t.Errorf("Instantiate(broken) error = %v, want ErrNotInstantiable", err)
	}
}

func TestContextAttachOnce(t *testing.T) {
	dir := t.TempDir()
	lib := writeLua(t, dir, "counter.lua", `loads = (loads or 0) + 1`)

	c, err := NewLoader().NewContext("counter/-")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := c.(*Context)

	for range 3 {
		if err := ctx.Attach([]string{lib}); err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
	}
	if v, _ := ctx.State().Global("loads"); v != int64(1) {
		t.Errorf("loads = %v, want 1", v)
	}
	if got := ctx.Libraries(); len(got) != 1 {
		t.Errorf("Libraries() = %v", got)
	}

	if err := ctx.Attach([]string{filepath.Join(dir, "missing.lua")}); err == nil {
		t.Error("Attach(missing) should fail")
	}
}

func TestContextHostModule(t *testing.T) {
	c, err := NewLoader().NewContext("host/G")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := c.(*Context)

	err = ctx.State().DoString(`
		local host = require("plugreg")
		host.log("loaded", "count", 1)
		id = host.context()
		domain = host.domain()
	`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if v, _ := ctx.State().Global("id"); v != ctx.ID() {
		t.Errorf("host.context() = %v, want %s", v, ctx.ID())
	}
	if v, _ := ctx.State().Global("domain"); v != "host/G" {
		t.Errorf("host.domain() = %v", v)
	}
}

func TestLoaderGrants(t *testing.T) {
	c, err := NewLoader(WithGrants(GrantFileRead)).NewContext("fs/-")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if !c.(*Context).State().Sandbox().Granted(GrantFileRead) {
		t.Error("loader grant not applied")
	}

	if _, err := NewLoader(WithGrants("network")).NewContext("net/-"); err == nil {
		t.Error("NewContext() with unknown grant should fail")
	}
}

func TestContextClosedInstances(t *testing.T) {
	c, err := NewLoader().NewContext("closed/-")
	if err != nil {
		t.Fatal(err)
	}
	ctx := c.(*Context)
	if err := ctx.State().DoString(`Thing = {hello = function() return "hi" end}`); err != nil {
		t.Fatal(err)
	}
	v, err := ctx.Instantiate("Thing")
	if err != nil {
		t.Fatal(err)
	}

	c.Close()
	if _, err := v.(*Instance).Call("hello"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call() after Close error = %v, want ErrStateClosed", err)
	}
	if _, err := ctx.Instantiate("Thing"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Instantiate() after Close error = %v, want ErrStateClosed", err)
	}
}

func TestRegistryWithLuaLoader(t *testing.T) {
	dir := t.TempDir()
	shared := writeLua(t, dir, "shared.lua", `
		Shared = {hits = 0}
		function Shared.new()
			Shared.hits = Shared.hits + 1
			return {hits = Shared.hits}
		end
	`)
	other := writeLua(t, dir, "other.lua", `Other = function() return {n = Shared and Shared.hits or -1} end`)

	reg := plugin.NewRegistry(plugin.WithLoader(NewLoader()))
	defer reg.Close()

	p1 := plugin.NewDescriptor("codec", []string{"p1"}, plugin.WithGroup("G"),
		plugin.WithLibraries(shared), plugin.WithClass("Counter", "Shared"))
	p2 := plugin.NewDescriptor("codec", []string{"p2"}, plugin.WithGroup("G"),
		plugin.WithLibraries(other), plugin.WithClass("Probe", "Other"))
	for _, d := range []*plugin.BaseDescriptor{p1, p2} {
		if err := reg.Register("codec", d); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := reg.LoadClass("codec", "p1", "Counter"); err != nil {
		t.Fatalf("LoadClass(Counter) error = %v", err)
	}
	v, err := reg.LoadClass("codec", "p2", "Probe")
	if err != nil {
		t.Fatalf("LoadClass(Probe) error = %v", err)
	}
	value, _ := v.(*Instance).Value()
	if want := map[string]any{"n": int64(1)}; !reflect.DeepEqual(value, want) {
		t.Errorf("group members should share state, got %v", value)
	}

	// After a member leaves, the survivor starts from a fresh state.
	if err := reg.Remove("codec", p1); err != nil {
		t.Fatal(err)
	}
	v, err = reg.LoadClass("codec", "p2", "Probe")
	if err != nil {
		t.Fatalf("LoadClass(Probe) after removal error = %v", err)
	}
	value, _ = v.(*Instance).Value()
	if want := map[string]any{"n": int64(-1)}; !reflect.DeepEqual(value, want) {
		t.Errorf("recycled domain should not see removed code, got %v", value)
	}

	_, err = reg.LoadClass("codec", "p2", "Missing")
	if !errors.Is(err, plugin.ErrCapabilityNotMapped) {
		t.Errorf("LoadClass(Missing) error = %v", err)
	}

	bad := plugin.NewDescriptor("codec", []string{"bad"}, plugin.WithClass("X", "Nope"))
	if err := reg.Register("codec", bad); err != nil {
		t.Fatal(err)
	}
	_, err = reg.LoadClass("codec", "bad", "X")
	if !errors.Is(err, plugin.ErrLoadFailure) || !errors.Is(err, ErrClassNotFound) {
		t.Errorf("LoadClass(bad) error = %v, want load failure wrapping ErrClassNotFound", err)
	}
}

func TestRegistryRejectsBrokenGroupMember(t *testing.T) {
	dir := t.TempDir()
	good := writeLua(t, dir, "good.lua", `Good = function() return {ok = true} end`)
	bad := writeLua(t, dir, "bad.lua", `Bad = function( return end`)

	reg := plugin.NewRegistry(plugin.WithLoader(NewLoader()))
	defer reg.Close()

	p1 := plugin.NewDescriptor("codec", []string{"p1"}, plugin.WithGroup("G"),
		plugin.WithLibraries(good), plugin.WithClass("Good", "Good"))
	p2 := plugin.NewDescriptor("codec", []string{"p2"}, plugin.WithGroup("G"),
		plugin.WithLibraries(bad), plugin.WithClass("Bad", "Bad"))

	if err := reg.Register("codec", p1); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("codec", p2); err == nil {
		t.Fatal("Register() with a broken library should fail before any resolution")
	}
	if n := reg.Count("codec"); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	v, err := reg.LoadClass("codec", "p1", "Good")
	if err != nil {
		t.Fatalf("LoadClass(Good) error = %v", err)
	}
	value, _ := v.(*Instance).Value()
	if want := map[string]any{"ok": true}; !reflect.DeepEqual(value, want) {
		t.Errorf("Value() = %v, want %v", value, want)
	}
}

// Package lua implements a plugin loading mechanism on gopher-lua.
//
// Each isolation domain gets its own sandboxed State. Libraries attached to
// the domain are executed in that state, and classes are dotted global paths
// such as "codecs.Gzip".
//
// # Classes
//
// A class path may resolve to:
//   - a function: it is called and its result is the instance
//   - a table with a new method: Class:new() is called
//   - any other table: the table itself is the instance
//
// Instances are returned as *Instance:
//
//	v, err := reg.LoadClass("codec", "gzip", "codec.Codec")
//	inst := v.(*lua.Instance)
//	out, err := inst.Call("encode", "payload")
//
// # Sandbox
//
// States open only base, package, table, string, math and coroutine.
// dofile, loadfile and load are removed and require only resolves safe
// modules, preloaded Go modules and granted libraries:
//   - GrantFileRead: read-only io.open and io.lines
//   - GrantUnsafe: the full io, os and debug libraries
//
// Every chunk and call runs under an execution deadline.
//
// # Host Module
//
// Plugins reach the host through require("plugreg"), which provides
// log(msg, key, value, ...), context() and domain().
package lua

// Package plugin provides a runtime extension registry.
//
// Extension points are identified by a Type. Plugins describe themselves with
// a Descriptor: identifiers, a display name, a class map binding abstract
// capabilities to implementation classes, and an optional isolation group.
// The registry keeps one bucket of descriptors per type and answers:
//   - which plugins of a type match an identifier
//   - which loadable-code context a plugin runs in
//   - which implementation a plugin provides for a capability
//
// # Quick Start
//
//	reg := plugin.NewRegistry(plugin.WithLoader(native.NewLoader(catalog)))
//	defer reg.Close()
//
//	d := plugin.NewDescriptor("codec", []string{"gzip"},
//	    plugin.WithClass(plugin.CapabilityOf[Codec](), "codec.Gzip"),
//	    plugin.WithGroup("compression"),
//	)
//	if err := reg.Register("codec", d); err != nil {
//	    log.Fatal(err)
//	}
//
//	c, err := plugin.Load[Codec](reg, "codec", "gzip")
//
// # Matching
//
// Lookups never compare identifiers directly; they call Descriptor.Matches.
// BaseDescriptor matches its ids and aliases, PatternDescriptor adds glob
// patterns such as "log-*". Several descriptors may answer to the same id and
// are returned in registration order.
//
// # Isolation Domains
//
// Every registered descriptor is bound to an isolation domain. Descriptors
// without a group get a private domain. Descriptors of the same type that
// share a group share one domain and therefore one Context, so their code
// sees the same classes and the same state.
//
// Contexts are created lazily by the configured Loader. When a member leaves
// a shared domain the context is closed, and the remaining members receive a
// fresh context on next access. When the last member leaves, the domain is
// discarded. Domains are keyed by (type, group): equal group tags on
// different types never share code.
//
// # Class Resolution
//
// LoadClass resolves a capability for an identifier:
//
//  1. No matching descriptor returns ErrPluginNotFound.
//  2. A supplemental factory added with AddClassFactory wins and is invoked
//     on every call.
//  3. Otherwise the first matching descriptor that maps the capability is
//     instantiated through its domain context.
//  4. No descriptor maps the capability: a *ClassMapError.
//
// Failures of the loading mechanism surface as *LoadError, which matches
// ErrLoadFailure and the underlying cause with errors.Is.
//
// Supplemental factories layer implementations over existing descriptors
// without changing them. They are discarded when the last descriptor
// matching their id is removed.
//
// # Loaders
//
// The registry orchestrates contexts; loading code is delegated:
//   - lua: sandboxed gopher-lua states (package lua)
//   - native: catalogs of Go constructors (package native)
//
// A registry created without WithLoader uses contexts that carry identity but
// know no classes.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Each type's bucket has its own
// lock, and context creation happens exactly once per domain generation.
// Instantiation runs without registry locks. Event handlers are called
// outside all locks.
package plugin

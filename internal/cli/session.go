package cli

import (
	"context"
	"fmt"

	"github.com/dshills/plugreg/internal/config"
	"github.com/dshills/plugreg/internal/logging"
	"github.com/dshills/plugreg/internal/plugin"
	"github.com/dshills/plugreg/internal/plugin/discovery"
	"github.com/dshills/plugreg/internal/plugin/lua"
	"github.com/dshills/plugreg/internal/plugin/native"
	"github.com/dshills/plugreg/internal/plugin/watch"
)

// session is a registry populated from the configured search paths.
type session struct {
	reg      *plugin.Registry
	scanner  *discovery.Scanner
	reloader *watch.Reloader
}

// newLoader builds the class loader selected by the configuration.
func (a *app) newLoader() (plugin.Loader, error) {
	switch a.cfg.Plugins.Loader {
	case config.LoaderLua:
		grants := make([]lua.Grant, 0, len(a.cfg.Lua.Grants))
		for _, g := range a.cfg.Lua.Grants {
			grants = append(grants, lua.Grant(g))
		}
		return lua.NewLoader(
			lua.WithTimeout(a.cfg.Lua.Timeout.Std()),
			lua.WithGrants(grants...),
			lua.WithLogger(logging.Component(a.log, "lua")),
		), nil
	case config.LoaderNative:
		return native.NewLoader(native.NewCatalog()), nil
	case config.LoaderNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown loader %q", a.cfg.Plugins.Loader)
}

// openSession discovers and installs plugins. Plugins that fail to install
// are logged; the session still opens.
func (a *app) openSession(ctx context.Context) (*session, error) {
	loader, err := a.newLoader()
	if err != nil {
		return nil, err
	}

	reg := plugin.NewRegistry(
		plugin.WithLoader(loader),
		plugin.WithLogger(logging.Component(a.log, "registry")),
	)

	paths := a.cfg.PluginPaths()
	if len(paths) == 0 {
		paths = discovery.DefaultPaths()
	}
	scanner := discovery.NewScanner(
		discovery.WithPaths(paths...),
		discovery.WithParallel(a.cfg.Plugins.Parallel),
		discovery.WithDefaultType(a.cfg.Plugins.DefaultType),
		discovery.WithLogger(logging.Component(a.log, "discovery")),
	)
	reloader := watch.NewReloader(reg, scanner, logging.Component(a.log, "reload"))

	if err := reloader.Load(ctx); err != nil {
		if ctx.Err() != nil {
			_ = reg.Close()
			return nil, err
		}
		a.log.Error(err, "some plugins failed to install")
	}

	return &session{reg: reg, scanner: scanner, reloader: reloader}, nil
}

func (s *session) Close() error {
	return s.reg.Close()
}

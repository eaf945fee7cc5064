package watch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"

	"github.com/dshills/plugreg/internal/plugin"
	"github.com/dshills/plugreg/internal/plugin/discovery"
)

// Reloader keeps a registry in sync with the plugins on disk.
type Reloader struct {
	reg     *plugin.Registry
	scanner *discovery.Scanner
	log     logr.Logger

	mu        sync.Mutex
	installed map[string][]discovery.Installed
}

// NewReloader creates a reloader installing into reg.
func NewReloader(reg *plugin.Registry, scanner *discovery.Scanner, log logr.Logger) *Reloader {
	return &Reloader{
		reg:       reg,
		scanner:   scanner,
		log:       log,
		installed: make(map[string][]discovery.Installed),
	}
}

// Load discovers and installs every plugin. Plugins that fail to install
// are reported in the returned error; the others stay installed.
func (r *Reloader) Load(ctx context.Context) error {
	entries, err := r.scanner.Discover(ctx)
	if err != nil {
		return err
	}

	installed, err := discovery.Install(r.reg, entries)

	r.mu.Lock()
	for _, in := range installed {
		r.installed[in.Name] = append(r.installed[in.Name], in)
	}
	r.mu.Unlock()

	r.log.Info("plugins loaded", "installed", len(installed), "found", len(entries))
	return err
}

// Reload replaces the descriptors of the named plugin with what the search
// paths now hold. A plugin that no longer exists is only removed.
func (r *Reloader) Reload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if old := r.installed[name]; len(old) > 0 {
		if err := discovery.Uninstall(r.reg, old); err != nil {
			errs = append(errs, err)
		}
		delete(r.installed, name)
	}

	path, ok := r.scanner.Locate(name)
	if !ok {
		r.log.Info("plugin removed", "name", name)
		return errors.Join(errs...)
	}

	entry := r.scanner.Inspect(path)
	entry.Name = name
	installed, err := discovery.Install(r.reg, []discovery.Entry{entry})
	if err != nil {
		errs = append(errs, err)
	}
	if len(installed) > 0 {
		r.installed[name] = installed
		r.log.Info("plugin reloaded", "name", name, "path", path)
	}
	return errors.Join(errs...)
}

// Installed returns the names of the installed plugins, sorted.
func (r *Reloader) Installed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.installed))
	for name := range r.installed {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run applies changes from w until ctx is done or w is closed. Reload
// failures are logged and do not stop the loop.
func (r *Reloader) Run(ctx context.Context, w *Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c, ok := <-w.Changes():
			if !ok {
				return nil
			}
			if err := r.Reload(c.Name); err != nil {
				r.log.Error(err, "reload failed", "name", c.Name)
			}

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			r.log.Error(fmt.Errorf("watch: %w", err), "watcher error")
		}
	}
}

package discovery

import (
	"errors"
	"fmt"

	"github.com/dshills/plugreg/internal/plugin"
)

// Installed pairs a registered descriptor with the plugin it came from.
type Installed struct {
	Name       string
	Path       string
	Descriptor plugin.Descriptor
}

// Install registers the descriptor of every valid entry. Invalid entries
// and registration failures do not stop the install; they are joined into
// the returned error.
func Install(reg *plugin.Registry, entries []Entry) ([]Installed, error) {
	var (
		installed []Installed
		errs      []error
	)
	for _, e := range entries {
		if e.Err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", e.Name, e.Err))
			continue
		}
		d, err := e.Manifest.Descriptor()
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", e.Name, err))
			continue
		}
		if err := reg.Register(d.Type(), d); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", e.Name, err))
			continue
		}
		installed = append(installed, Installed{Name: e.Name, Path: e.Path, Descriptor: d})
	}
	return installed, errors.Join(errs...)
}

// Uninstall removes previously installed descriptors.
func Uninstall(reg *plugin.Registry, installed []Installed) error {
	var errs []error
	for _, in := range installed {
		if err := reg.Remove(in.Descriptor.Type(), in.Descriptor); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

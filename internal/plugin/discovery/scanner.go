package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// DefaultType is the extension-point type given to plugins without a
// manifest.
const DefaultType = "script"

// Entry is one discovered plugin. Entries with Err set could not be parsed.
// Path is the plugin directory or single file; Dir is the directory holding
// its code.
type Entry struct {
	Name     string
	Path     string
	Dir      string
	Manifest *Manifest
	Err      error
}

// candidate is a filesystem location that may hold a plugin.
type candidate struct {
	name string
	path string
	file bool
}

// Scanner discovers plugins in search paths.
type Scanner struct {
	paths       []string
	parallel    int
	defaultType string
	log         logr.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) ScannerOption {
	return func(s *Scanner) {
		s.paths = paths
	}
}

// WithParallel bounds the number of manifests parsed at once.
func WithParallel(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithDefaultType sets the type of plugins without a manifest.
func WithDefaultType(t string) ScannerOption {
	return func(s *Scanner) {
		s.defaultType = t
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) ScannerOption {
	return func(s *Scanner) {
		s.log = log
	}
}

// NewScanner creates a scanner.
func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		paths:       DefaultPaths(),
		parallel:    runtime.GOMAXPROCS(0),
		defaultType: DefaultType,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPaths returns the default plugin search paths.
func DefaultPaths() []string {
	paths := make([]string, 0, 3)

	// User plugins: ~/.config/plugreg/plugins/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "plugreg", "plugins"))
		paths = append(paths, filepath.Join(home, ".local", "share", "plugreg", "plugins"))
	}

	// Project plugins: .plugreg/plugins/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".plugreg", "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (s *Scanner) Paths() []string {
	return slices.Clone(s.paths)
}

// Discover finds all plugins in the search paths and parses their
// manifests concurrently. Entries are sorted by directory, then name. When
// two search paths hold a plugin with the same name, the first path wins.
// Missing search paths are skipped.
func (s *Scanner) Discover(ctx context.Context) ([]Entry, error) {
	seen := make(map[string]bool)
	var candidates []candidate
	for _, base := range s.paths {
		found, err := s.candidates(base)
		if err != nil {
			s.log.Error(err, "scanning plugin path", "path", base)
			continue
		}
		for _, c := range found {
			if seen[c.name] {
				s.log.V(1).Info("shadowed plugin", "name", c.name, "path", c.path)
				continue
			}
			seen[c.name] = true
			candidates = append(candidates, c)
		}
	}

	entries := make([]Entry, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, c := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entries[i] = s.inspect(c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.Dir, b.Dir); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return entries, nil
}

// Inspect examines one plugin directory or single-file plugin.
func (s *Scanner) Inspect(path string) Entry {
	c := candidate{name: filepath.Base(path), path: path}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		c.file = true
		c.name = strings.TrimSuffix(c.name, filepath.Ext(c.name))
	}
	return s.inspect(c)
}

// Locate returns the location of the named plugin in the first search path
// holding it.
func (s *Scanner) Locate(name string) (string, bool) {
	for _, base := range s.paths {
		dir := filepath.Join(base, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, true
		}
		file := dir + ".lua"
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			return file, true
		}
	}
	return "", false
}

// candidates lists plugin directories and .lua files directly in base.
func (s *Scanner) candidates(base string) ([]candidate, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var found []candidate
	for _, e := range entries {
		path := filepath.Join(base, e.Name())
		switch {
		case e.IsDir():
			found = append(found, candidate{name: e.Name(), path: path})
		case filepath.Ext(e.Name()) == ".lua":
			found = append(found, candidate{name: strings.TrimSuffix(e.Name(), ".lua"), path: path, file: true})
		}
	}
	return found, nil
}

func (s *Scanner) inspect(c candidate) Entry {
	entry := Entry{Name: c.name, Path: c.path, Dir: c.path}

	if c.file {
		entry.Dir = filepath.Dir(c.path)
		entry.Manifest = NewManifestMinimal(s.defaultType, c.name, c.path)
		entry.Err = entry.Manifest.Validate()
		return entry
	}

	m, err := LoadManifestFromDir(c.path)
	switch {
	case err == nil:
		entry.Manifest = m
	case errors.Is(err, ErrNoManifest):
		// A directory with only init.lua is a plugin named after the directory.
		init := filepath.Join(c.path, "init.lua")
		if _, statErr := os.Stat(init); statErr != nil {
			entry.Err = err
			return entry
		}
		entry.Manifest = NewManifestMinimal(s.defaultType, c.name, init)
		entry.Err = entry.Manifest.Validate()
	default:
		entry.Err = err
	}

	if entry.Err != nil {
		s.log.V(1).Info("invalid plugin", "name", c.name, "path", c.path, "error", entry.Err.Error())
	}
	return entry
}

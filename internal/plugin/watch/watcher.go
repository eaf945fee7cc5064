// Package watch reloads plugins when their files change on disk.
//
// A Watcher observes the plugin search paths with fsnotify and reports, per
// plugin name, debounced changes. A Reloader applies each change to a
// registry by removing the plugin's descriptors and installing whatever the
// search paths now hold under that name.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/gobwas/glob"
)

// DefaultDebounce is the default delay before a change is reported.
const DefaultDebounce = 200 * time.Millisecond

// Change reports that the plugin Name under Root changed.
type Change struct {
	Name string
	Root string
	Time time.Time
}

// Watcher reports plugin changes in a set of search paths.
type Watcher struct {
	mu sync.Mutex

	fsw    *fsnotify.Watcher
	roots  []string
	delay  time.Duration
	ignore []glob.Glob
	log    logr.Logger

	pending map[string]*time.Timer
	changes chan Change
	errors  chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the delay before a change is reported. Changes to the
// same plugin within the delay are coalesced.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithIgnore adds glob patterns for file names that never trigger a change.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) {
		for _, p := range patterns {
			if g, err := glob.Compile(p); err == nil {
				w.ignore = append(w.ignore, g)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

// New creates a watcher over roots. Roots that do not exist are skipped.
func New(roots []string, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		delay:   DefaultDebounce,
		log:     logr.Discard(),
		pending: make(map[string]*time.Timer),
		changes: make(chan Change, 64),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	WithIgnore(".*", "*~", "*.swp", "*.tmp")(w)
	for _, opt := range opts {
		opt(w)
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			w.log.V(1).Info("skipping missing plugin path", "path", abs)
			continue
		}
		w.roots = append(w.roots, abs)
		if err := w.watchTree(abs); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// Roots returns the watched search paths.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// Changes returns the change channel. It is closed by Close.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the error channel. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
	w.mu.Unlock()

	w.closedWg.Wait()

	err := w.fsw.Close()
	close(w.changes)
	close(w.errors)
	return err
}

// watchTree adds dir and its non-ignored subdirectories.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != dir && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

// handle maps a file event to the plugin it belongs to.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || w.ignored(filepath.Base(ev.Name)) {
		return
	}

	root, name, ok := w.pluginOf(ev.Name)
	if !ok {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				w.sendError(err)
			}
		}
	}

	w.schedule(Change{Name: name, Root: root})
}

// pluginOf returns the root and plugin name for path. Top-level files other
// than .lua files are not plugins.
func (w *Watcher) pluginOf(path string) (root, name string, ok bool) {
	for _, r := range w.roots {
		rel, err := filepath.Rel(r, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		first, _, nested := strings.Cut(rel, string(filepath.Separator))
		if nested || filepath.Ext(first) == "" {
			return r, first, true
		}
		if filepath.Ext(first) == ".lua" {
			return r, strings.TrimSuffix(first, ".lua"), true
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return r, first, true
		}
		return "", "", false
	}
	return "", "", false
}

// schedule reports c after the debounce delay, restarting the delay when
// the plugin changes again.
func (w *Watcher) schedule(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if t, ok := w.pending[c.Name]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[c.Name] = time.AfterFunc(w.delay, func() {
		w.fire(c)
	})
}

func (w *Watcher) fire(c Change) {
	w.mu.Lock()
	if _, ok := w.pending[c.Name]; !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, c.Name)
	w.closedWg.Add(1)
	w.mu.Unlock()
	defer w.closedWg.Done()

	c.Time = time.Now()
	select {
	case w.changes <- c:
	case <-w.closeCh:
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		w.log.Error(err, "dropping watcher error")
	}
}

func (w *Watcher) ignored(name string) bool {
	for _, g := range w.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

package bundle

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a bundle must be quiet before its change is
// reported.
const DefaultDebounce = 200 * time.Millisecond

// ErrWatcherClosed is returned by Add after Close.
var ErrWatcherClosed = errors.New("bundle: watcher is closed")

// Change reports that files of the bundle in Dir changed. Removed is set
// when Dir no longer holds a manifest.
type Change struct {
	Dir     string
	Removed bool
}

// Watcher reports bundle directories whose files changed. Rapid changes
// to one bundle are coalesced into a single Change.
type Watcher struct {
	fsw    *fsnotify.Watcher
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	roots   map[string]bool
	watched map[string]bool
	pending map[string]*time.Timer
	closed  bool

	changes chan Change
	errors  chan error
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a change is reported.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher starts a watcher with no roots.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		delay:   DefaultDebounce,
		logger:  slog.Default(),
		roots:   make(map[string]bool),
		watched: make(map[string]bool),
		pending: make(map[string]*time.Timer),
		changes: make(chan Change, 64),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add watches root: the directory itself and each bundle directory
// directly below it.
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}
	w.roots[abs] = true
	if err := w.watchLocked(abs); err != nil {
		return err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.watchLocked(filepath.Join(abs, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Watcher) watchLocked(dir string) error {
	if w.watched[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

// Watched returns the watched directories, sorted.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for d := range w.watched {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Changes returns the change channel. It is closed by Close.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Errors returns the error channel. It is closed by Close.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and closes both channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for dir, t := range w.pending {
		t.Stop()
		delete(w.pending, dir)
	}
	close(w.closeCh)
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	close(w.changes)
	close(w.errors)
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
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
			select {
			case w.errors <- err:
			default:
				w.logger.Warn("bundle watcher error dropped", "error", err)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod || strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}
	path := filepath.Clean(ev.Name)
	parent := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	dir := parent
	if w.roots[parent] && !IsBundle(parent) {
		// An entry directly below a root is a bundle directory.
		dir = path
		switch {
		case ev.Has(fsnotify.Create):
			info, err := os.Stat(path)
			if err != nil || !info.IsDir() {
				return
			}
			if err := w.watchLocked(path); err != nil {
				w.logger.Warn("cannot watch bundle", "dir", path, "error", err)
			}
		case w.watched[path]:
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				delete(w.watched, path)
			}
		default:
			return
		}
	}
	w.scheduleLocked(dir)
}

// scheduleLocked (re)starts the quiet-period timer of dir.
func (w *Watcher) scheduleLocked(dir string) {
	if t, ok := w.pending[dir]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[dir] = time.AfterFunc(w.delay, func() { w.fire(dir) })
}

func (w *Watcher) fire(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	delete(w.pending, dir)

	c := Change{Dir: dir, Removed: !IsBundle(dir)}
	select {
	case w.changes <- c:
	default:
		w.logger.Warn("bundle change dropped", "dir", dir)
	}
}

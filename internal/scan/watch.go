package scan

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mattjoyce/scriptsrunner/internal/log"
	"github.com/mattjoyce/scriptsrunner/internal/profile"
)

// DefaultDebounce coalesces bursts of events (editors, git checkouts) into
// one onChange call.
const DefaultDebounce = 250 * time.Millisecond

// Subscription is a disposable watch.
type Subscription interface {
	Close() error
}

type noopSubscription struct{}

func (noopSubscription) Close() error { return nil }

// Watcher delivers a debounced "something changed" signal for a set of
// folders. It does not recurse.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func()
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	// firing is held while onChange runs so Close can wait it out.
	firing sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newWatcher(onChange func(), debounce time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fs:       fs,
		onChange: onChange,
		debounce: debounce,
		logger:   log.WithComponent("watch"),
		done:     make(chan struct{}),
	}, nil
}

// Watch watches a single folder. Unlike WatchAll it reports failure.
func Watch(folder string, onChange func()) (Subscription, error) {
	w, err := newWatcher(onChange, DefaultDebounce)
	if err != nil {
		return nil, err
	}
	dir, err := profile.ExpandPath(folder)
	if err == nil {
		err = w.fs.Add(dir)
	}
	if err != nil {
		_ = w.fs.Close()
		return nil, err
	}
	w.start()
	return w, nil
}

// WatchAll watches every folder it can. Folders that cannot be watched are
// logged and skipped; if nothing can be watched the result is a no-op
// subscription, so callers simply lose auto-refresh.
func WatchAll(folders []string, onChange func(), debounce time.Duration) Subscription {
	w, err := newWatcher(onChange, debounce)
	if err != nil {
		log.WithComponent("watch").Warn("file watching unavailable", "error", err)
		return noopSubscription{}
	}

	added := 0
	for _, folder := range folders {
		dir, err := profile.ExpandPath(folder)
		if err == nil {
			err = w.fs.Add(dir)
		}
		if err != nil {
			w.logger.Warn("cannot watch folder, auto-refresh disabled for it", "folder", folder, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		_ = w.fs.Close()
		return noopSubscription{}
	}
	w.start()
	return w
}

func (w *Watcher) start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if relevant(ev) {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.firing.Lock()
	defer w.firing.Unlock()

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.onChange()
	}
}

// Close stops the watch. It must not be called from onChange.
// No onChange call runs after Close returns.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()

		// Wait for an in-flight onChange.
		w.firing.Lock()
		defer w.firing.Unlock()
	})
	return err
}

// relevant drops chmod-only events and editor scratch files.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	if strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, ".swx") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasPrefix(name, ".#") {
		return false
	}
	return true
}

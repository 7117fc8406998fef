package prd

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/ralph/internal/log"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reports edits to a project's prd.json made outside the session,
// for example by a human or by the agent itself.
type Watcher struct {
	watcher  *fsnotify.Watcher
	target   string
	debounce time.Duration
	onChange func()

	mu         sync.Mutex
	lastChange time.Time
}

// NewWatcher watches the directory containing prdPath. onChange is called
// from the watcher goroutine after a debounced write, create or rename of
// the file.
func NewWatcher(prdPath string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// The directory is watched rather than the file because Save replaces
	// the file by rename, which drops a file-level watch.
	if err := fw.Add(filepath.Dir(prdPath)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		watcher:  fw,
		target:   filepath.Clean(prdPath),
		debounce: debounce,
		onChange: onChange,
	}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.handleChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatSession, "prd watcher error", "path", w.target, "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	if time.Since(w.lastChange) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastChange = time.Now()
	w.mu.Unlock()

	log.Debug(log.CatSession, "prd changed on disk", "path", w.target)
	if w.onChange != nil {
		w.onChange()
	}
}

package supervisor

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches config.yaml and the root directory for external
// changes — an operator hand-editing the config file while the
// supervisor is running, or the root directory disappearing out from
// under it — and invokes onConfigChanged/onRootGone accordingly. This supplements
// spec.md's literal boot-time-only replay (§4.9 step 3) with the same
// "reactive to external state" idiom the ConfigTree subscribers already
// embody elsewhere; it does not replace tlog replay, which still owns
// in-process change tracking.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchRoot starts watching configPath's directory and root for the
// lifetime of the process (until Close). onConfigChanged fires whenever
// configPath itself is written or renamed over; onRootGone fires if root
// is removed.
func WatchRoot(root, configPath string, onConfigChanged func(), onRootGone func()) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, err
	}
	if dir := filepath.Dir(configPath); dir != root {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}

	fw := &FileWatcher{watcher: w, done: make(chan struct{})}
	go fw.loop(root, configPath, onConfigChanged, onRootGone)
	return fw, nil
}

func (fw *FileWatcher) loop(root, configPath string, onConfigChanged, onRootGone func()) {
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event, root, configPath, onConfigChanged, onRootGone)
		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event, root, configPath string, onConfigChanged, onRootGone func()) {
	switch {
	case event.Name == root && (event.Op&(fsnotify.Remove|fsnotify.Rename) != 0):
		if onRootGone != nil {
			onRootGone()
		}
	case event.Name == configPath && event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
		if _, err := os.Stat(configPath); err == nil && onConfigChanged != nil {
			onConfigChanged()
		}
	}
}

// Close stops the watch loop.
func (fw *FileWatcher) Close() {
	close(fw.done)
	fw.watcher.Close()
}

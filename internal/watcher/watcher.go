package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/fsnotify/fsnotify"
)

// Indexer is what the watcher drives. Index must apply the usual staleness
// check, so duplicate events for one write are cheap.
type Indexer interface {
	Index(path string) error
	Delete(path string) error
}

// Watcher keeps the index current between reindex cycles. It is an
// accelerator only: anything it misses is picked up by the next cycle.
type Watcher struct {
	watcher *fsnotify.Watcher
	indexer Indexer
	config  *config.Config
	running bool
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

func New(indexer Indexer, cfg *config.Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeWatcherFailed, "failed to create watcher", err)
	}

	return &Watcher{
		watcher: w,
		indexer: indexer,
		config:  cfg,
	}, nil
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	// A stopped watcher closed its fsnotify handle; make a new one.
	if w.watcher == nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return errdefs.NewCustomError(errdefs.ErrTypeWatcherFailed, "failed to create watcher", err)
		}
		w.watcher = fw
	}

	if err := w.addWatches(w.config.RootDir); err != nil {
		w.watcher.Close()
		w.watcher = nil
		return errdefs.NewCustomError(errdefs.ErrTypeWatcherFailed, w.config.RootDir, err)
	}

	w.running = true
	w.done = make(chan struct{})
	w.stopped = make(chan struct{})
	go w.eventLoop(w.watcher, w.done, w.stopped)

	log.Infof("watcher started for %s", w.config.RootDir)
	return nil
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}

	w.running = false
	close(w.done)
	err := w.watcher.Close()
	w.watcher = nil
	stopped := w.stopped
	w.mu.Unlock()

	<-stopped
	log.Infof("watcher stopped")
	return err
}

func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// addWatches registers dir and every indexable directory below it. Only an
// unreadable starting directory is an error.
func (w *Watcher) addWatches(dir string) error {
	watchCount := 0
	errorCount := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			log.Debugf("cannot watch %s: %v", path, err)
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.config.RootDir && !w.config.ShouldIndexDir(path) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			errorCount++
			if errorCount == 1 {
				log.Warnf("failed to add watch for %s: %v", path, err)
			}
			return nil
		}

		watchCount++
		return nil
	})

	if errorCount > 0 {
		log.Warnf("failed to add %d watches (added %d successfully)", errorCount, watchCount)
		log.Infof("if you hit inotify limits, increase with: sudo sysctl fs.inotify.max_user_watches=524288")
	} else {
		log.Debugf("added %d directory watches under %s", watchCount, dir)
	}

	return err
}

func (w *Watcher) eventLoop(fw *fsnotify.Watcher, done, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-done:
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Errorf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	path := event.Name

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.config.ShouldIndexDir(path) {
				w.watchNewDir(fw, path)
			}
			return
		}
		w.index(path)

	case event.Has(fsnotify.Write):
		w.index(path)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a Create.
		if err := w.indexer.Delete(path); err != nil {
			log.Debugf("failed to delete %s: %v", path, err)
		}
	}
}

func (w *Watcher) index(path string) {
	if !w.config.ShouldIndexFile(path) {
		return
	}
	if err := w.indexer.Index(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debugf("failed to index %s: %v", path, err)
	}
}

// watchNewDir watches a directory that appeared after Start and indexes the
// files that were created in it before the watch was in place.
func (w *Watcher) watchNewDir(fw *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !w.config.ShouldIndexDir(path) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				log.Debugf("failed to watch new dir %s: %v", path, err)
			}
			return nil
		}
		if d.Type().IsRegular() {
			w.index(path)
		}
		return nil
	})
}

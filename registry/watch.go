package registry

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay lets writers finish before the file is read.
const reloadDelay = 100 * time.Millisecond

// Watcher reloads a configuration file into a Registry when it changes.
type Watcher struct {
	registry  *Registry
	path      string
	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Watch loads the file at path and keeps reloading it on change until the
// returned Watcher is closed. A reload that fails leaves the last good
// content in place.
func (r *Registry) Watch(path string) (*Watcher, error) {
	if err := r.LoadFile(path); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory so that editors replacing the file are seen
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		registry: r,
		path:     path,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	filename := filepath.Base(w.path)
	log := w.registry.logger.With(slog.String("path", w.path))

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			select {
			case <-w.done:
				return
			case <-time.After(reloadDelay):
			}

			if err := w.registry.LoadFile(w.path); err != nil {
				log.Warn("bot registry reload failed", slog.Any("error", err))
			} else {
				log.Info("bot registry reloaded", slog.Int("total_bots", w.registry.Len()))
			}
		case err, ok := <-w.watcher.Errors:
			if ok && err != nil {
				log.Warn("bot registry watcher error", slog.Any("error", err))
			}
		}
	}
}

// Close stops watching. Safe to call multiple times.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

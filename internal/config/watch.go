package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WeightsWatcher hot-reloads the clustering section of a config file so the
// boundary-detector weight table can be tuned on a running server.
type WeightsWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(ClusteringConfig)
	done     chan struct{}
	once     sync.Once
}

// WatchWeights watches the config file at path and calls onChange with the
// new clustering section whenever the file changes and passes validation.
// Invalid edits are ignored; the previous weights stay in effect.
func WatchWeights(path string, onChange func(ClusteringConfig)) (*WeightsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &WeightsWatcher{
		path:     path,
		watcher:  watcher,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop()

	return w, nil
}

func (w *WeightsWatcher) loop() {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *WeightsWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		return
	}
	if err := cfg.ValidateClustering(); err != nil {
		return
	}
	w.onChange(cfg.Clustering)
}

// Close stops watching. Safe to call more than once.
func (w *WeightsWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

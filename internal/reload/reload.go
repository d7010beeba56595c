// Package reload hot-reloads the compiled policy blueprint: it watches a
// config file for changes, recompiles it, and atomically swaps the index
// every in-flight request's Select call reads through. A failed reload
// never replaces a working index (spec §4.6's "compilation is total"
// extends to reconfiguration: a document that fails validation changes
// nothing).
package reload

import (
	"fmt"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/kuadrant/wasm-shim-go/pkg/blueprint"
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/observability/metrics"
)

// Watcher owns the current compiled blueprint.Result and keeps it fresh
// as the backing config file changes on disk.
type Watcher struct {
	path    string
	current atomic.Pointer[blueprint.Result]
	logger  logr.Logger
	watcher *fsnotify.Watcher
}

// New loads path once synchronously, so a misconfigured process fails
// fast at startup rather than serving with a nil blueprint.
func New(path string, logger logr.Logger) (*Watcher, error) {
	w := &Watcher{path: path, logger: logger}
	if err := w.reloadOnce(); err != nil {
		return nil, fmt.Errorf("reload: initial load: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reload: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("reload: watch %q: %w", path, err)
	}
	w.watcher = fw

	return w, nil
}

// Current returns the most recently compiled blueprint, safe to call
// concurrently with Run.
func (w *Watcher) Current() *blueprint.Result {
	return w.current.Load()
}

// Run blocks processing fsnotify events until ctx-like stop channel
// closes (the caller wires this to an errgroup or signal handler);
// recompilation failures are logged and leave the prior index in place.
func (w *Watcher) Run(stop <-chan struct{}) {
	defer w.watcher.Close()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reloadOnce(); err != nil {
				w.logger.Error(err, "reload: recompilation failed, keeping prior blueprint")
				metrics.ReloadCount.WithLabelValues("failure").Inc()
				continue
			}
			metrics.ReloadCount.WithLabelValues("success").Inc()
			w.logger.Info("reload: blueprint recompiled", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "reload: fsnotify error")
		}
	}
}

func (w *Watcher) reloadOnce() error {
	doc, err := config.Load(w.path)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	result, err := blueprint.Compile(doc)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	w.current.Store(result)
	return nil
}

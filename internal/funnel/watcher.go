package funnel

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Source hands out the definition new sessions should use.
type Source interface {
	Current() *Definition
}

// Static is a Source that never changes.
type Static struct {
	def *Definition
}

// NewStatic wraps a definition as a Source.
func NewStatic(def *Definition) *Static {
	return &Static{def: def}
}

// Current returns the wrapped definition.
func (s *Static) Current() *Definition { return s.def }

// Watcher reloads a definition file whenever it changes on disk. Sessions
// already running keep the definition they started with.
type Watcher struct {
	path    string
	current atomic.Pointer[Definition]
	watcher *fsnotify.Watcher
	log     *zap.Logger

	// OnReload, if set, is called after each successful reload.
	OnReload func(*Definition)
}

// NewWatcher loads path and prepares to watch it. Call Run to start.
func NewWatcher(path string) (*Watcher, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "funnel: create watcher")
	}
	// Watch the directory so editors that replace the file are seen.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "funnel: watch %s", path)
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		watcher: fw,
		log:     zap.L().With(zap.String("component", "funnel_watcher"), zap.String("path", path)),
	}
	w.current.Store(def)
	return w, nil
}

// Current returns the last successfully loaded definition.
func (w *Watcher) Current() *Definition {
	return w.current.Load()
}

// Run processes file events until ctx is done. A definition that fails to
// load is logged and the previous one stays active.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close() //nolint:errcheck
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	def, err := Load(w.path)
	if err != nil {
		w.log.Warn("reload failed, keeping previous definition", zap.Error(err))
		return
	}
	w.current.Store(def)
	w.log.Info("definition reloaded", zap.String("name", def.Name), zap.Int("screens", len(def.Screens)))
	if w.OnReload != nil {
		w.OnReload(def)
	}
}

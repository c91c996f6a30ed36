package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Native watches a root through OS change notifications. Every subdirectory
// is registered recursively; directories created while watching are added on
// the fly.
type Native struct {
	root    string
	watcher *fsnotify.Watcher
	ignore  *IgnoreMatcher
	events  chan Event
	errs    chan error
	done    chan struct{}
}

func NewNative(root string, ignore *IgnoreMatcher) (*Native, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Native{
		root:    root,
		watcher: fsw,
		ignore:  ignore,
		events:  make(chan Event, 1024),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}, nil
}

func (w *Native) Start(ctx context.Context) error {
	// The initial walk registers watches and collects the files already on
	// disk. Their created events are delivered by the loop goroutine, after
	// Start has returned and a consumer is attached, so roots larger than
	// the event buffer neither block startup nor lose files to the
	// drop-on-full policy.
	var initial []Event
	if err := w.addRecursive(w.root, func(ev Event) {
		initial = append(initial, ev)
	}); err != nil {
		return err
	}
	go w.loop(ctx, initial)
	return nil
}

func (w *Native) Events() <-chan Event { return w.events }
func (w *Native) Errors() <-chan error { return w.errs }
func (w *Native) Strategy() Strategy   { return StrategyNative }

func (w *Native) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}

// addRecursive registers watches on dir and every subdirectory, reporting
// the files it finds as created through sink. Upserts are idempotent, so
// re-reporting files on restart is harmless.
func (w *Native) addRecursive(dir string, sink func(Event)) error {
	first := true
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if first {
				return err // root itself is unreadable
			}
			return nil // skip inaccessible subtrees
		}
		first = false
		relPath, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		if !info.IsDir() {
			if !w.ignore.ShouldIgnore(relPath) {
				sink(Event{Path: relPath, Kind: KindCreated, At: time.Now()})
			}
			return nil
		}
		if relPath != "." && w.ignore.ShouldSkipDir(relPath) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			log.Printf("watcher: failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Native) loop(ctx context.Context, initial []Event) {
	// The startup scan is deterministic, so it gets blocking sends; the
	// drop-on-full emit only covers runtime notification bursts.
	for _, ev := range initial {
		select {
		case w.events <- ev:
		case <-ctx.Done():
			return
		case <-w.done:
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *Native) handle(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil || relPath == "." {
		return
	}

	// New directories need watches of their own; their contents arrive as
	// separate create events on most platforms, but walk anyway to be safe.
	if event.Has(fsnotify.Create) {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			if !w.ignore.ShouldSkipDir(relPath) {
				if addErr := w.addRecursive(event.Name, w.emit); addErr != nil {
					log.Printf("watcher: failed to add new directory %s: %v", event.Name, addErr)
				}
			}
			return
		}
	}

	if w.ignore.ShouldIgnore(relPath) {
		return
	}

	var out Event
	switch {
	case event.Has(fsnotify.Create):
		out = Event{Path: relPath, Kind: KindCreated}
	case event.Has(fsnotify.Write):
		out = Event{Path: relPath, Kind: KindModified}
	case event.Has(fsnotify.Remove):
		out = Event{Path: relPath, Kind: KindDeleted}
	case event.Has(fsnotify.Rename):
		// Rename notifications only carry the old name; the destination
		// shows up as its own create event.
		out = Event{From: relPath, Kind: KindMoved}
	default:
		return
	}
	out.At = time.Now()
	w.emit(out)
}

func (w *Native) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		log.Printf("watcher: event channel full, dropping %s for %s", ev.Kind, ev.Path)
	}
}

func (w *Native) reportError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

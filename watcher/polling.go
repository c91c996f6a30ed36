package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const defaultPollInterval = 3 * time.Second

type fileMeta struct {
	modTime int64
	size    int64
}

// Polling watches a root by periodically walking it and diffing path→
// mtime/size snapshots into synthetic create/modify/delete events. Higher
// latency than native notification, but works everywhere.
type Polling struct {
	root     string
	ignore   *IgnoreMatcher
	interval time.Duration
	events   chan Event
	errs     chan error
	done     chan struct{}
	snapshot map[string]fileMeta
}

func NewPolling(root string, ignore *IgnoreMatcher, interval time.Duration) *Polling {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Polling{
		root:     root,
		ignore:   ignore,
		interval: interval,
		events:   make(chan Event, 1024),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (w *Polling) Start(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("cannot poll %s: %w", w.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cannot poll %s: not a directory", w.root)
	}

	w.snapshot = make(map[string]fileMeta)
	go w.loop(ctx)
	return nil
}

func (w *Polling) Events() <-chan Event { return w.events }
func (w *Polling) Errors() <-chan error { return w.errs }
func (w *Polling) Strategy() Strategy   { return StrategyPolling }

func (w *Polling) Close() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return nil
}

func (w *Polling) loop(ctx context.Context) {
	// The baseline scan doubles as the initial sync: everything present at
	// start is reported as created so the index converges with disk. It runs
	// here, after Start has returned and a consumer is draining the events
	// channel, so a root with more files than the buffer holds cannot wedge
	// startup.
	snap, err := w.scan()
	if err != nil {
		w.reportError(err)
		return
	}
	w.diff(ctx, snap)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			snap, err := w.scan()
			if err != nil {
				w.reportError(err)
				return
			}
			w.diff(ctx, snap)
		}
	}
}

func (w *Polling) reportError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

// scan walks the root and captures metadata for every watchable file.
func (w *Polling) scan() (map[string]fileMeta, error) {
	if _, err := os.Stat(w.root); err != nil {
		return nil, fmt.Errorf("poll root %s: %w", w.root, err)
	}

	snap := make(map[string]fileMeta)
	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // transiently unreadable entries are picked up next tick
		}
		relPath, relErr := filepath.Rel(w.root, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		if info.IsDir() {
			if w.ignore.ShouldSkipDir(relPath) {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ignore.ShouldIgnore(relPath) {
			return nil
		}
		snap[relPath] = fileMeta{modTime: info.ModTime().UnixNano(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// diff emits events for changes between the previous snapshot and snap, then
// adopts snap as the new baseline.
func (w *Polling) diff(ctx context.Context, snap map[string]fileMeta) {
	now := time.Now()
	for path, meta := range snap {
		prev, existed := w.snapshot[path]
		switch {
		case !existed:
			w.emit(ctx, Event{Path: path, Kind: KindCreated, At: now})
		case prev != meta:
			w.emit(ctx, Event{Path: path, Kind: KindModified, At: now})
		}
	}
	for path := range w.snapshot {
		if _, still := snap[path]; !still {
			w.emit(ctx, Event{Path: path, Kind: KindDeleted, At: now})
		}
	}
	w.snapshot = snap
}

// emit blocks rather than drops: a full buffer backpressures the poll loop
// until the consumer catches up, so no diffed change is ever lost.
func (w *Polling) emit(ctx context.Context, ev Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	case <-w.done:
	}
}

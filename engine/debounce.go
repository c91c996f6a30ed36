package engine

import (
	"sync"
	"time"

	"github.com/yoanbernabeu/indexsync/watcher"
)

// PendingChange is the coalesced net effect of all raw events seen for one
// path since it was last flushed.
type PendingChange struct {
	RootID    string
	Path      string // relative to the root, slash-separated
	Kind      watcher.Kind
	FirstSeen time.Time
	LastSeen  time.Time

	// everDeleted records that a delete was folded in at some point. It
	// decides whether a later create-then-delete pair can be discarded
	// outright or must still remove a document the index already holds.
	everDeleted bool
}

type changeKey struct {
	rootID string
	path   string
}

// Debouncer absorbs raw watcher events and releases one change per path once
// the path has been quiet for the configured window. MaxPending caps how long
// a constantly-rewritten path can stay buffered before it is flushed anyway.
type Debouncer struct {
	mu          sync.Mutex
	pending     map[changeKey]*PendingChange
	quietWindow time.Duration
	maxPending  time.Duration
}

func NewDebouncer(quietWindow, maxPending time.Duration) *Debouncer {
	return &Debouncer{
		pending:     make(map[changeKey]*PendingChange),
		quietWindow: quietWindow,
		maxPending:  maxPending,
	}
}

// Observe folds a raw event into the pending set. Moves count as a delete of
// the old path and a create of the new one.
func (d *Debouncer) Observe(rootID string, ev watcher.Event) {
	if ev.Kind == watcher.KindMoved {
		if ev.From != "" {
			d.observe(rootID, ev.From, watcher.KindDeleted, ev.At)
		}
		if ev.Path != "" {
			d.observe(rootID, ev.Path, watcher.KindCreated, ev.At)
		}
		return
	}
	d.observe(rootID, ev.Path, ev.Kind, ev.At)
}

func (d *Debouncer) observe(rootID, path string, kind watcher.Kind, at time.Time) {
	key := changeKey{rootID: rootID, path: path}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur, ok := d.pending[key]
	if !ok {
		d.pending[key] = &PendingChange{
			RootID:    rootID,
			Path:      path,
			Kind:      kind,
			FirstSeen: at,
			LastSeen:  at,
		}
		return
	}

	if kind == watcher.KindDeleted && cur.Kind == watcher.KindCreated && !cur.everDeleted {
		// Created and deleted within one window: the path never reached the
		// index, so there is nothing to do.
		delete(d.pending, key)
		return
	}

	cur.Kind = mergeKinds(cur.Kind, kind)
	cur.LastSeen = at
	if kind == watcher.KindDeleted {
		cur.everDeleted = true
	}
}

// mergeKinds computes the net effect of a new raw event on top of the
// current coalesced one.
func mergeKinds(old, new watcher.Kind) watcher.Kind {
	switch new {
	case watcher.KindDeleted:
		return watcher.KindDeleted
	case watcher.KindCreated:
		return watcher.KindCreated
	case watcher.KindModified:
		if old == watcher.KindCreated || old == watcher.KindDeleted {
			// The index has no current document for the path, so the net
			// effect is a fresh create.
			return watcher.KindCreated
		}
		return watcher.KindModified
	}
	return new
}

// FlushReady removes and returns every change that has been quiet for the
// window, or buffered longer than the pending ceiling.
func (d *Debouncer) FlushReady(now time.Time) []PendingChange {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ready []PendingChange
	for key, c := range d.pending {
		quiet := now.Sub(c.LastSeen) >= d.quietWindow
		stale := now.Sub(c.FirstSeen) >= d.maxPending
		if quiet || stale {
			ready = append(ready, *c)
			delete(d.pending, key)
		}
	}
	return ready
}

// FlushAll drains everything regardless of age, used on shutdown and when a
// root is removed from the config.
func (d *Debouncer) FlushAll() []PendingChange {
	d.mu.Lock()
	defer d.mu.Unlock()

	ready := make([]PendingChange, 0, len(d.pending))
	for key, c := range d.pending {
		ready = append(ready, *c)
		delete(d.pending, key)
	}
	return ready
}

// DropRoot discards pending changes for a root that is no longer watched.
func (d *Debouncer) DropRoot(rootID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.pending {
		if key.rootID == rootID {
			delete(d.pending, key)
		}
	}
}

// Len reports how many paths are currently buffered.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

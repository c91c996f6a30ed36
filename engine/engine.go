package engine

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/yoanbernabeu/indexsync/index"
	"github.com/yoanbernabeu/indexsync/watcher"
)

// Options carries the watch-side tuning knobs. Index-side tuning lives in
// the dispatcher.
type Options struct {
	QuietWindow  time.Duration
	MaxPending   time.Duration
	PollInterval time.Duration
	ForcePolling bool
	RestartMax   int

	IgnorePatterns []string
	SkipExtensions []string
}

// Snapshot is the engine's externally visible state, serialized to the
// status file and printed by the status command.
type Snapshot struct {
	Roots     []RootStatus   `json:"roots"`
	Pending   int            `json:"pending"`
	Counters  index.Counters `json:"counters"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Engine owns the sync pipeline: supervised watch sessions feed the
// debouncer, a flush loop tags settled changes, and tagged operations go to
// the dispatcher for delivery.
type Engine struct {
	opts       Options
	registry   *Registry
	debouncer  *Debouncer
	tagger     *Tagger
	dispatcher *index.Dispatcher
	ignore     *watcher.IgnoreMatcher

	mu          sync.Mutex
	supervisors map[string]*Supervisor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options, roots []WatchedRoot, dispatcher *index.Dispatcher) *Engine {
	registry := NewRegistry(roots)
	return &Engine{
		opts:        opts,
		registry:    registry,
		debouncer:   NewDebouncer(opts.QuietWindow, opts.MaxPending),
		tagger:      NewTagger(registry),
		dispatcher:  dispatcher,
		ignore:      watcher.NewIgnoreMatcher(opts.IgnorePatterns, opts.SkipExtensions),
		supervisors: make(map[string]*Supervisor),
	}
}

// Start launches supervisors for every enabled root and the flush loop.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.mu.Lock()
	for _, root := range e.registry.Active() {
		e.startSupervisorLocked(root)
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go e.flushLoop()
}

func (e *Engine) watchOptions() watcher.Options {
	return watcher.Options{
		Ignore:       e.ignore,
		PollInterval: e.opts.PollInterval,
		ForcePolling: e.opts.ForcePolling,
	}
}

func (e *Engine) startSupervisorLocked(root WatchedRoot) {
	sup := NewSupervisor(root, e.watchOptions(), e.opts.RestartMax, e.observe)
	e.supervisors[root.ID()] = sup
	sup.Start(e.ctx)
}

func (e *Engine) observe(rootID string, ev watcher.Event) {
	e.debouncer.Observe(rootID, ev)
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()

	interval := e.opts.QuietWindow / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.flush(e.debouncer.FlushReady(now))
		}
	}
}

func (e *Engine) flush(changes []PendingChange) {
	for _, change := range changes {
		op, ok := e.tagger.Tag(change)
		if !ok {
			continue
		}
		if err := e.dispatcher.Submit(e.ctx, op.Doc, op.Op); err != nil {
			log.Printf("Warning: failed to enqueue %s for %s: %v", op.Op, op.Doc.DocID, err)
		}
	}
}

// Reconcile applies a new root set, typically after a config reload. Removed
// roots are stopped and their buffered changes dropped, new roots are
// started, and roots whose path changed are restarted.
func (e *Engine) Reconcile(roots []WatchedRoot) {
	old := make(map[string]WatchedRoot)
	for _, root := range e.registry.Active() {
		old[root.ID()] = root
	}

	e.registry.Replace(roots)
	next := make(map[string]WatchedRoot)
	for _, root := range e.registry.Active() {
		next[root.ID()] = root
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, prev := range old {
		cur, keep := next[id]
		if keep && cur.Path == prev.Path {
			continue
		}
		if sup := e.supervisors[id]; sup != nil {
			sup.Stop()
			delete(e.supervisors, id)
		}
		e.debouncer.DropRoot(id)
		if !keep {
			log.Printf("Stopped watching %s", id)
		}
	}

	for id, root := range next {
		if _, running := e.supervisors[id]; running {
			continue
		}
		e.startSupervisorLocked(root)
	}
}

// Snapshot reports the state of every supervised root plus queue counters.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	statuses := make([]RootStatus, 0, len(e.supervisors))
	for _, sup := range e.supervisors {
		statuses = append(statuses, sup.Status())
	}
	e.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].RootID < statuses[j].RootID })
	return Snapshot{
		Roots:     statuses,
		Pending:   e.debouncer.Len(),
		Counters:  e.dispatcher.Counters(),
		UpdatedAt: time.Now(),
	}
}

// Close drains the pipeline: watch sessions stop first so no new events
// arrive, buffered changes are flushed regardless of age, and then the
// dispatcher finishes in-flight deliveries. The context bounds how long the
// drain may take.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	sups := make([]*Supervisor, 0, len(e.supervisors))
	for _, sup := range e.supervisors {
		sups = append(sups, sup)
	}
	e.supervisors = make(map[string]*Supervisor)
	e.mu.Unlock()

	for _, sup := range sups {
		sup.Stop()
	}

	e.flush(e.debouncer.FlushAll())

	err := e.dispatcher.Drain(ctx)

	e.cancel()
	e.wg.Wait()
	return err
}

package index

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// DispatcherConfig tunes the worker pool and retry policy.
type DispatcherConfig struct {
	Workers      int
	MaxAttempts  int
	QueueSize    int
	RateLimit    float64 // operations per second against the remote index, 0 = unlimited
	RetryInitial time.Duration
	RetryMax     time.Duration

	// OnResult, when set, observes every terminal outcome (nil err = applied).
	OnResult func(op Operation, err error)
}

func (c *DispatcherConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
}

type dispatchEntry struct {
	op     Operation
	queued bool // present in the arrival-order queue
}

// Dispatcher turns tagged documents into remote index mutations. It keeps at
// most one live operation per doc id: a later submit for an id that is still
// waiting replaces the waiting payload (last writer wins), and a submit for an
// id that is in flight is parked until the in-flight call finishes. Queue
// capacity is bounded so a slow remote index backpressures Submit callers.
type Dispatcher struct {
	client  Client
	cfg     DispatcherConfig
	limiter *rate.Limiter

	mu       sync.Mutex
	order    []string
	pending  map[string]*dispatchEntry
	inflight map[string]Operation

	workCh  chan struct{}
	spaceCh chan struct{}
	wg      sync.WaitGroup

	succeeded atomic.Int64
	abandoned atomic.Int64
}

func NewDispatcher(client Client, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Dispatcher{
		client:   client,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		pending:  make(map[string]*dispatchEntry),
		inflight: make(map[string]Operation),
		workCh:   make(chan struct{}, cfg.Workers),
		spaceCh:  make(chan struct{}, 1),
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Submit queues one operation for doc. It blocks while the queue is at
// capacity, unless the doc id already holds a slot (supersession is free).
func (d *Dispatcher) Submit(ctx context.Context, doc Document, op Op) error {
	id := doc.DocID
	next := Operation{Doc: doc, Op: op}

	d.mu.Lock()
	for {
		if e, ok := d.pending[id]; ok {
			// Supersede the waiting operation in place, keeping queue position.
			e.op = next
			d.mu.Unlock()
			return nil
		}
		if _, ok := d.inflight[id]; ok {
			// Park behind the in-flight call; requeued on its completion.
			d.pending[id] = &dispatchEntry{op: next}
			d.mu.Unlock()
			return nil
		}
		if len(d.pending)+len(d.inflight) < d.cfg.QueueSize {
			break
		}
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.spaceCh:
		}
		d.mu.Lock()
	}
	d.pending[id] = &dispatchEntry{op: next, queued: true}
	d.order = append(d.order, id)
	d.mu.Unlock()
	d.wake()
	return nil
}

// Drain blocks until every queued and in-flight operation has reached a
// terminal state, or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		d.mu.Lock()
		empty := len(d.pending) == 0 && len(d.inflight) == 0
		d.mu.Unlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until the worker pool has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Counters returns current queue gauges and cumulative terminal counts.
func (d *Dispatcher) Counters() Counters {
	d.mu.Lock()
	queued := int64(len(d.pending))
	inflight := int64(len(d.inflight))
	d.mu.Unlock()
	return Counters{
		Queued:    queued,
		InFlight:  inflight,
		Succeeded: d.succeeded.Load(),
		Abandoned: d.abandoned.Load(),
	}
}

func (d *Dispatcher) wake() {
	select {
	case d.workCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) signalSpace() {
	select {
	case d.spaceCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		op, id, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.workCh:
				continue
			}
		}
		err := d.execute(ctx, &op)
		d.complete(id, op, err)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the oldest queued operation and marks its doc id in flight.
func (d *Dispatcher) next() (Operation, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.order) > 0 {
		id := d.order[0]
		d.order = d.order[1:]
		e, ok := d.pending[id]
		if !ok || !e.queued {
			continue
		}
		delete(d.pending, id)
		d.inflight[id] = e.op
		return e.op, id, true
	}
	return Operation{}, "", false
}

func (d *Dispatcher) execute(ctx context.Context, op *Operation) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = d.cfg.RetryInitial
	expo.MaxInterval = d.cfg.RetryMax

	attempt := func() (struct{}, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		op.Attempts++
		err := d.apply(ctx, *op)
		if err == nil {
			return struct{}{}, nil
		}
		if IsRetryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
	)
	return err
}

func (d *Dispatcher) apply(ctx context.Context, op Operation) error {
	switch op.Op {
	case OpDelete:
		return d.client.Delete(ctx, op.Doc.IndexName, op.Doc.DocID)
	default:
		return d.client.Upsert(ctx, op.Doc.IndexName, op.Doc.DocID, op.Doc.Payload())
	}
}

func (d *Dispatcher) complete(id string, op Operation, err error) {
	d.mu.Lock()
	delete(d.inflight, id)
	if e, ok := d.pending[id]; ok && !e.queued {
		e.queued = true
		d.order = append(d.order, id)
		d.wake()
	}
	d.mu.Unlock()
	d.signalSpace()

	if err != nil {
		d.abandoned.Add(1)
		log.Printf("index: abandoned %s doc=%s index=%s attempts=%d err=%v",
			op.Op, id, op.Doc.IndexName, op.Attempts, err)
	} else {
		d.succeeded.Add(1)
	}
	if d.cfg.OnResult != nil {
		d.cfg.OnResult(op, err)
	}
}

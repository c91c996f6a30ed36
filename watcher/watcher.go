package watcher

import (
	"context"
	"log"
	"time"
)

// Kind classifies a raw filesystem change.
type Kind int

const (
	KindCreated Kind = iota
	KindModified
	KindDeleted
	KindMoved
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is one raw change inside a watched root. Paths are relative to the
// root. Moved events carry the old path in From; Path holds the new path when
// the adapter knows it and may be empty (native rename notifications only
// name the old path; the matching create arrives as its own event).
type Event struct {
	Path string
	From string
	Kind Kind
	At   time.Time
}

// Strategy names the notification mechanism an adapter uses.
type Strategy string

const (
	StrategyNative  Strategy = "native"
	StrategyPolling Strategy = "polling"
)

// Adapter produces raw change events for one root. Adapter-level failures
// (root deleted mid-watch, notification backend errors) are surfaced on
// Errors rather than swallowed, so the supervisor can react.
type Adapter interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Errors() <-chan error
	Strategy() Strategy
	Close() error
}

// Options configures adapter construction for one root.
type Options struct {
	Ignore       *IgnoreMatcher
	PollInterval time.Duration
	ForcePolling bool
}

// StartAdapter constructs and starts the adapter for root. It defaults to
// native notification and falls back to polling when native mode cannot be
// initialized or the override is set; the fallback is logged once per root
// and affects only that root.
func StartAdapter(ctx context.Context, root string, opts Options) (Adapter, error) {
	if opts.ForcePolling {
		log.Printf("watcher: using polling for %s (forced)", root)
		return startPolling(ctx, root, opts)
	}

	native, err := NewNative(root, opts.Ignore)
	if err == nil {
		startErr := native.Start(ctx)
		if startErr == nil {
			return native, nil
		}
		_ = native.Close()
		err = startErr
	}

	log.Printf("watcher: native watch unavailable for %s, falling back to polling: %v", root, err)
	return startPolling(ctx, root, opts)
}

func startPolling(ctx context.Context, root string, opts Options) (Adapter, error) {
	p := NewPolling(root, opts.Ignore, opts.PollInterval)
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

package engine

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yoanbernabeu/indexsync/watcher"
)

// ForcePollingEnv forces every root onto the polling strategy regardless of
// config, mirroring the watch.force_polling setting. Accepted values are
// "1", "true" and "yes".
const ForcePollingEnv = "INDEXSYNC_FORCE_POLLING"

type RootState string

const (
	StateStopped  RootState = "stopped"
	StateStarting RootState = "starting"
	StateWatching RootState = "watching"
	StateDegraded RootState = "degraded"
)

// RootStatus is a point-in-time snapshot of one supervised root.
type RootStatus struct {
	RootID    string    `json:"root_id"`
	SourceID  string    `json:"source_id"`
	IndexName string    `json:"index_name"`
	Path      string    `json:"path"`
	State     RootState `json:"state"`
	Strategy  string    `json:"strategy,omitempty"`
	Restarts  int       `json:"restarts,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

const maxSupervisorRetryBackoff = 30 * time.Second

// supervisorRetryBackoff doubles per attempt, capped.
func supervisorRetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second << uint(attempt-1)
	if d > maxSupervisorRetryBackoff || d <= 0 {
		return maxSupervisorRetryBackoff
	}
	return d
}

// Supervisor keeps one root's watch session alive. It starts an adapter,
// funnels its events into the sink, and restarts the session with bounded
// backoff when the adapter fails. After restartMax consecutive failures the
// root is parked in the stopped state until the next config reload.
type Supervisor struct {
	root       WatchedRoot
	opts       watcher.Options
	restartMax int
	sink       func(rootID string, ev watcher.Event)

	mu     sync.Mutex
	status RootStatus

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(root WatchedRoot, opts watcher.Options, restartMax int, sink func(rootID string, ev watcher.Event)) *Supervisor {
	if restartMax < 1 {
		restartMax = 1
	}
	return &Supervisor{
		root:       root,
		opts:       opts,
		restartMax: restartMax,
		sink:       sink,
		done:       make(chan struct{}),
		status: RootStatus{
			RootID:    root.ID(),
			SourceID:  root.SourceID,
			IndexName: root.Type.IndexName(),
			Path:      root.Path,
			State:     StateStopped,
			Since:     time.Now(),
		},
	}
}

func forcePollingFromEnv() bool {
	switch strings.ToLower(os.Getenv(ForcePollingEnv)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Start launches the supervision loop. The environment override is read once
// here so a session keeps its strategy for its whole lifetime.
func (s *Supervisor) Start(ctx context.Context) {
	if forcePollingFromEnv() {
		s.opts.ForcePolling = true
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
}

// Stop cancels the session and waits for the loop to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Status returns a copy of the current status.
func (s *Supervisor) Status() RootStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) setState(state RootState, strategy string, lastErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Strategy = strategy
	s.status.Since = time.Now()
	if lastErr != nil {
		s.status.LastError = lastErr.Error()
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateStopped, "", nil)

	attempt := 0
	for {
		s.setState(StateStarting, "", nil)

		adapter, err := watcher.StartAdapter(ctx, s.root.Path, s.opts)
		if err != nil {
			attempt++
			s.mu.Lock()
			s.status.Restarts = attempt
			s.mu.Unlock()
			if attempt >= s.restartMax {
				log.Printf("Warning: giving up on %s after %d failed watch attempts: %v", s.root.ID(), attempt, err)
				s.setState(StateStopped, "", err)
				return
			}
			backoff := supervisorRetryBackoff(attempt)
			log.Printf("Warning: watch session for %s failed to start (attempt %d/%d), retrying in %s: %v",
				s.root.ID(), attempt, s.restartMax, backoff, err)
			s.setState(StateDegraded, "", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		s.setState(StateWatching, string(adapter.Strategy()), nil)
		log.Printf("Watching %s at %s (strategy: %s)", s.root.ID(), s.root.Path, adapter.Strategy())

		started := time.Now()
		sessionErr := s.consume(ctx, adapter)
		adapter.Close()

		if ctx.Err() != nil {
			return
		}

		// A session that ran fine for a while earns a fresh restart budget.
		if time.Since(started) > time.Minute {
			attempt = 0
		}
		attempt++
		s.mu.Lock()
		s.status.Restarts++
		restarts := s.status.Restarts
		s.mu.Unlock()
		if attempt >= s.restartMax {
			log.Printf("Warning: giving up on %s after %d restarts: %v", s.root.ID(), restarts, sessionErr)
			s.setState(StateStopped, "", sessionErr)
			return
		}
		backoff := supervisorRetryBackoff(attempt)
		log.Printf("Warning: watch session for %s ended, restarting in %s: %v", s.root.ID(), backoff, sessionErr)
		s.setState(StateDegraded, "", sessionErr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// consume pumps events into the sink until the session fails or the context
// is cancelled.
func (s *Supervisor) consume(ctx context.Context, adapter watcher.Adapter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-adapter.Events():
			if !ok {
				return nil
			}
			s.sink(s.root.ID(), ev)
		case err := <-adapter.Errors():
			return err
		}
	}
}

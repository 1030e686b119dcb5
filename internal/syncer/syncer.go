// Package syncer coordinates drain and replay cycles. It reacts to
// connectivity edges and manual triggers, replays the durable queue as one
// ordered batch, and reconciles queue state afterwards.
package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"gudangsync/backend/internal/connectivity"
	"gudangsync/backend/internal/domain"
	"gudangsync/backend/internal/syncqueue"
)

type State string

const (
	StateIdle        State = "IDLE"
	StateDraining    State = "DRAINING"
	StateReplaying   State = "REPLAYING"
	StateReconciling State = "RECONCILING"
)

// ReplayFunc ships a drained batch to the remote hub. A nil error means the
// hub applied every action; any error means none were applied.
type ReplayFunc func(ctx context.Context, actions []domain.SyncAction) error

type Options struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
}

type Syncer struct {
	queue   *syncqueue.Manager
	monitor *connectivity.Monitor
	replay  ReplayFunc
	logger  *log.Logger

	backoffMin time.Duration
	backoffMax time.Duration

	// trigger has capacity one so that any number of requests arriving
	// during an active cycle coalesce into a single follow-up cycle.
	trigger chan struct{}

	mu           sync.Mutex
	state        State
	lastSyncedAt *time.Time
	lastError    string
	failedCycles int
}

func New(queue *syncqueue.Manager, monitor *connectivity.Monitor, replay ReplayFunc, logger *log.Logger, opts Options) *Syncer {
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 2 * time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = 5 * time.Minute
	}
	return &Syncer{
		queue:      queue,
		monitor:    monitor,
		replay:     replay,
		logger:     logger,
		backoffMin: opts.BackoffMin,
		backoffMax: opts.BackoffMax,
		trigger:    make(chan struct{}, 1),
		state:      StateIdle,
	}
}

// Trigger requests a sync cycle. Safe to call from any goroutine; requests
// made while a cycle runs collapse into one pending cycle.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run owns the sync loop until the context ends. Cycles start on a
// becameOnline edge, a manual trigger, or a backoff retry after a failed
// cycle. Going offline never interrupts a cycle already in flight.
func (s *Syncer) Run(ctx context.Context) {
	events := s.monitor.Subscribe()

	var retryC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Type != connectivity.BecameOnline {
				continue
			}
			retryC = s.runCycle(ctx)
		case <-s.trigger:
			retryC = s.runCycle(ctx)
		case <-retryC:
			retryC = s.runCycle(ctx)
		}
	}
}

// runCycle executes one sync attempt and, when it fails while still online,
// returns a timer channel for the next backoff retry.
func (s *Syncer) runCycle(ctx context.Context) <-chan time.Time {
	if !s.monitor.Online() {
		return nil
	}
	if err := s.SyncOnce(ctx); err != nil {
		if ctx.Err() != nil || !s.monitor.Online() {
			return nil
		}
		delay := s.backoff()
		if s.logger != nil {
			s.logger.Printf("[syncer] cycle failed, retrying in %s: %v", delay, err)
		}
		return time.After(delay)
	}
	return nil
}

func (s *Syncer) backoff() time.Duration {
	s.mu.Lock()
	failed := s.failedCycles
	s.mu.Unlock()

	delay := s.backoffMin
	for i := 1; i < failed; i++ {
		delay *= 2
		if delay >= s.backoffMax {
			return s.backoffMax
		}
	}
	if delay > s.backoffMax {
		delay = s.backoffMax
	}
	return delay
}

// SyncOnce performs a single drain, replay, reconcile pass. The batch is
// all-or-nothing: on success every drained action is marked synced, on
// failure every one is marked failed and stays eligible for the next drain.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.setState(StateDraining)
	defer s.setState(StateIdle)

	batch, err := s.queue.Drain(ctx)
	if err != nil {
		s.recordFailure(err)
		return err
	}
	if len(batch) == 0 {
		s.recordSuccess()
		return nil
	}

	s.setState(StateReplaying)
	replayErr := s.replay(ctx, batch)

	s.setState(StateReconciling)
	if replayErr != nil {
		for _, action := range batch {
			if err := s.queue.MarkFailed(ctx, action.ID); err != nil {
				if s.logger != nil {
					s.logger.Printf("[syncer] mark failed action %d: %v", action.ID, err)
				}
			}
		}
		s.recordFailure(replayErr)
		return replayErr
	}

	for _, action := range batch {
		if err := s.queue.MarkSynced(ctx, action.ID); err != nil {
			s.recordFailure(err)
			return err
		}
	}
	if s.logger != nil {
		s.logger.Printf("[syncer] replayed %d actions", len(batch))
	}
	s.recordSuccess()
	return nil
}

func (s *Syncer) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Syncer) recordSuccess() {
	now := time.Now().UTC()
	s.mu.Lock()
	s.lastSyncedAt = &now
	s.lastError = ""
	s.failedCycles = 0
	s.mu.Unlock()
}

func (s *Syncer) recordFailure(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.failedCycles++
	s.mu.Unlock()
}

func (s *Syncer) Status(ctx context.Context) (domain.SyncStatus, error) {
	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		return domain.SyncStatus{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SyncStatus{
		State:        string(s.state),
		Online:       s.monitor.Online(),
		PendingCount: pending,
		LastSyncedAt: s.lastSyncedAt,
		LastError:    s.lastError,
		FailedCycles: s.failedCycles,
	}, nil
}

// Package connectivity tracks whether the remote hub is reachable and
// reports edge transitions. Consumers see becameOnline and becameOffline
// events, never a steady-state stream.
package connectivity

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

type EventType string

const (
	BecameOnline  EventType = "becameOnline"
	BecameOffline EventType = "becameOffline"
)

type Event struct {
	Type EventType
	At   time.Time
}

// Probe reports whether the remote side currently answers. Implementations
// must honor the context deadline.
type Probe func(ctx context.Context) bool

// HTTPProbe considers the hub reachable when a HEAD request to url returns
// any HTTP response, including error statuses. A 500 still means the
// network path is up.
func HTTPProbe(url string, timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	online bool
	subs   []chan Event
}

func NewMonitor(probe Probe, interval time.Duration, logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel that receives every edge transition observed
// after the call. The channel is buffered; a subscriber that falls behind
// loses intermediate edges, not the most recent state, because edges strictly
// alternate.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Run probes on a fixed interval until the context ends. The first probe
// fires immediately so startup does not wait a full interval to learn the
// link state.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	m.SetOnline(m.probe(probeCtx))
}

// SetOnline records the observed link state and emits an event if it
// changed. Exposed so tests and external signals (a push from the hub, an
// OS network notification) can drive transitions without a probe.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online

	event := Event{Type: BecameOffline, At: time.Now().UTC()}
	if online {
		event.Type = BecameOnline
	}
	subs := make([]chan Event, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Printf("[connectivity] %s", event.Type)
	}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

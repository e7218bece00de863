package chatclient

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Monitor reports connectivity and notifies subscribers on transitions.
// Subscribers are called with the new state; the returned cancel func
// removes the subscription.
type Monitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(online bool)
}

func (s *subscribers) add(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(online bool))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) notify(online bool) {
	s.mu.Lock()
	fns := make([]func(online bool), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

// ProbeMonitor polls the backend healthcheck to track connectivity.
type ProbeMonitor struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	subs       subscribers

	mu     sync.Mutex
	online bool
	cancel context.CancelFunc
}

// NewProbeMonitor starts polling baseURL/healthcheck every interval. The
// monitor starts optimistic (online) until a probe says otherwise.
func NewProbeMonitor(baseURL string, interval time.Duration, httpClient *http.Client) *ProbeMonitor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &ProbeMonitor{
		url:        baseURL + "/healthcheck",
		interval:   interval,
		httpClient: httpClient,
		online:     true,
		cancel:     cancel,
	}
	go m.loop(ctx)
	return m
}

func (m *ProbeMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return
	}
	resp, err := m.httpClient.Do(req)
	online := err == nil && resp.StatusCode < 500
	if resp != nil {
		_ = resp.Body.Close()
	}
	m.set(online)
}

func (m *ProbeMonitor) set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if changed {
		m.subs.notify(online)
	}
}

func (m *ProbeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ProbeMonitor) Subscribe(fn func(online bool)) func() {
	return m.subs.add(fn)
}

func (m *ProbeMonitor) Stop() { m.cancel() }

// ManualMonitor is a connectivity source driven by the caller. Useful in
// tests and in hosts that already know their network state.
type ManualMonitor struct {
	mu     sync.Mutex
	online bool
	subs   subscribers
}

func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online}
}

func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ManualMonitor) Subscribe(fn func(online bool)) func() {
	return m.subs.add(fn)
}

// SetOnline flips the state, notifying subscribers on a transition.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if changed {
		m.subs.notify(online)
	}
}

package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"naskahcollab/internal/collab/model"
)

const (
	DefaultMinLatency = 10 * time.Millisecond
	DefaultMaxLatency = 60 * time.Millisecond
)

// Network is an in-memory bus. Every event sent by one endpoint is delivered
// to every open endpoint after a random latency in [min, max).
type Network struct {
	mu        sync.Mutex
	endpoints map[*Simulated]struct{}
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[*Simulated]struct{})}
}

type SimulatedOption func(*Simulated)

func WithLatency(lo, hi time.Duration) SimulatedOption {
	return func(s *Simulated) {
		s.minLatency = lo
		s.maxLatency = hi
	}
}

// WithConnectFailures makes the first n Connect calls fail.
func WithConnectFailures(n int) SimulatedOption {
	return func(s *Simulated) { s.failures = n }
}

func WithConnectDelay(d time.Duration) SimulatedOption {
	return func(s *Simulated) { s.connectDelay = d }
}

func WithSeed(seed int64) SimulatedOption {
	return func(s *Simulated) { s.rnd = rand.New(rand.NewSource(seed)) }
}

// Endpoint attaches a new simulated transport to the network.
func (n *Network) Endpoint(opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		network:    n,
		minLatency: DefaultMinLatency,
		maxLatency: DefaultMaxLatency,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		pending:    make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	n.mu.Lock()
	n.endpoints[s] = struct{}{}
	n.mu.Unlock()
	return s
}

func (n *Network) peers() []*Simulated {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Simulated, 0, len(n.endpoints))
	for s := range n.endpoints {
		out = append(out, s)
	}
	return out
}

func (n *Network) detach(s *Simulated) {
	n.mu.Lock()
	delete(n.endpoints, s)
	n.mu.Unlock()
}

// Simulated is a timer-driven transport. Sends are accepted in any state
// except closed; connection state only reflects Connect results.
type Simulated struct {
	network *Network

	mu           sync.Mutex
	handler      Handler
	onDisconnect func(error)
	connected    bool
	closed       bool
	failures     int
	connectDelay time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	rnd          *rand.Rand
	pending      map[*time.Timer]struct{}
	inflight     sync.WaitGroup
}

// NewSimulated returns an endpoint on its own private network, so it only
// hears its own events.
func NewSimulated(opts ...SimulatedOption) *Simulated {
	return NewNetwork().Endpoint(opts...)
}

func (s *Simulated) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransportInit, ErrClosed)
	}
	delay := s.connectDelay
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %w", ErrTransportInit, ctx.Err())
		case <-t.C:
		}
	}
	if fail {
		return fmt.Errorf("%w: simulated connection refused", ErrTransportInit)
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Send(_ context.Context, event model.Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, peer := range s.network.peers() {
		peer.deliver(event)
	}
	return nil
}

func (s *Simulated) deliver(event model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	latency := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		latency += time.Duration(s.rnd.Int63n(int64(span)))
	}

	s.inflight.Add(1)
	var t *time.Timer
	t = time.AfterFunc(latency, func() {
		defer s.inflight.Done()
		s.mu.Lock()
		delete(s.pending, t)
		h := s.handler
		closed := s.closed
		s.mu.Unlock()
		if h != nil && !closed {
			h(event)
		}
	})
	s.pending[t] = struct{}{}
}

func (s *Simulated) OnReceive(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Simulated) OnDisconnect(fn func(error)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// Drop simulates losing an established connection.
func (s *Simulated) Drop(cause error) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	fn := s.onDisconnect
	s.mu.Unlock()
	if wasConnected && fn != nil {
		fn(cause)
	}
}

func (s *Simulated) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return model.StateConnected
	}
	return model.StateDisconnected
}

// Close cancels undelivered events and waits for running handlers.
func (s *Simulated) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	for t := range s.pending {
		if t.Stop() {
			s.inflight.Done()
		}
		delete(s.pending, t)
	}
	s.mu.Unlock()

	s.network.detach(s)
	s.inflight.Wait()
	return nil
}

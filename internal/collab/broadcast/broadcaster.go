// Package broadcast sends collaboration events over a transport, keeps
// delivery metrics, and reconnects with exponential backoff.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"naskahcollab/internal/collab/listener"
	"naskahcollab/internal/collab/model"
	"naskahcollab/internal/collab/transport"
	"naskahcollab/pkg/clock"
	"naskahcollab/pkg/logger"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultBaseDelay            = time.Second
	DefaultDedupeSize           = 4096

	// LatencyAlpha weights the newest sample in the moving latency average.
	LatencyAlpha = 0.1
)

type Config struct {
	MaxReconnectAttempts int
	// BaseDelay doubles before every retry: the first wait is 2*BaseDelay.
	BaseDelay  time.Duration
	DedupeSize int
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = DefaultDedupeSize
	}
	return c
}

type Broadcaster struct {
	transport transport.Transport
	clock     clock.Clock
	cfg       Config
	seen      *lru.Cache[string, struct{}]

	mu       sync.Mutex
	metrics  model.Metrics
	attempts int
	state    model.ConnectionState
	handler  func(model.Event)
	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	closed   bool
	wg       sync.WaitGroup

	connection listener.Set[model.ConnectionState]
}

func New(t transport.Transport, c clock.Clock, cfg Config) *Broadcaster {
	cfg = cfg.withDefaults()
	if c == nil {
		c = clock.System{}
	}
	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		// only reachable with a non-positive size, which withDefaults rules out
		panic(err)
	}
	b := &Broadcaster{
		transport: t,
		clock:     c,
		cfg:       cfg,
		seen:      seen,
		state:     model.StateDisconnected,
	}
	t.OnReceive(b.handleIncoming)
	t.OnDisconnect(b.handleDisconnect)
	return b
}

// OnEvent sets the single consumer of incoming, de-duplicated events.
func (b *Broadcaster) OnEvent(fn func(model.Event)) {
	b.mu.Lock()
	b.handler = fn
	b.mu.Unlock()
}

func (b *Broadcaster) AddConnectionListener(fn func(model.ConnectionState)) listener.ID {
	return b.connection.Add(fn)
}

func (b *Broadcaster) RemoveConnectionListener(id listener.ID) bool {
	return b.connection.Remove(id)
}

// Start connects in the background, retrying on failure. Calling it again
// after the retries ran out starts a fresh schedule; calling it while a
// schedule is running is a no-op.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.running {
		return
	}
	if b.ctx == nil || b.ctx.Err() != nil {
		b.ctx, b.cancel = context.WithCancel(ctx)
	}
	ctx = b.ctx
	b.running = true
	b.attempts = 0
	b.wg.Add(1)
	go b.connectLoop(ctx)
}

func (b *Broadcaster) schedule(maxRetries int) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 2 * b.cfg.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = b.cfg.BaseDelay << uint(maxRetries+1)
	exp.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(exp, uint64(maxRetries))
	policy.Reset()
	return policy
}

func (b *Broadcaster) connectLoop(ctx context.Context) {
	defer b.wg.Done()

	policy := backoff.WithContext(b.schedule(b.cfg.MaxReconnectAttempts), ctx)
	for {
		err := b.transport.Connect(ctx)
		if err == nil {
			b.mu.Lock()
			b.attempts = 0
			b.running = false
			b.mu.Unlock()
			b.setState(model.StateConnected)
			logger.Sugar.Infof("collaboration transport connected")
			return
		}
		if ctx.Err() != nil {
			b.stopped()
			return
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			logger.Sugar.Errorf("giving up on collaboration transport after %d retries: %v", b.cfg.MaxReconnectAttempts, err)
			b.stopped()
			b.setState(model.StateDisconnected)
			return
		}

		b.mu.Lock()
		b.attempts++
		attempt := b.attempts
		b.mu.Unlock()
		logger.Sugar.Warnf("collaboration transport connect failed, retry %d/%d in %s: %v", attempt, b.cfg.MaxReconnectAttempts, wait, err)
		b.setState(model.StateReconnecting)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.stopped()
			return
		case <-timer.C:
		}
	}
}

func (b *Broadcaster) stopped() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

func (b *Broadcaster) handleDisconnect(err error) {
	logger.Sugar.Warnf("collaboration transport lost: %v", err)
	b.setState(model.StateDisconnected)

	b.mu.Lock()
	ctx, closed := b.ctx, b.closed
	b.mu.Unlock()
	if !closed && ctx != nil && ctx.Err() == nil {
		b.Start(ctx)
	}
}

func (b *Broadcaster) setState(s model.ConnectionState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	b.connection.Notify(s)
}

// Broadcast counts and sends event. Send failures are logged, not returned:
// local state has already been updated and replicas catch up on reconnect.
func (b *Broadcaster) Broadcast(ctx context.Context, event model.Event) {
	b.mu.Lock()
	b.metrics.MessagesSent++
	b.mu.Unlock()

	if err := b.transport.Send(ctx, event); err != nil {
		logger.Sugar.Warnf("broadcast %s %s for document %s: %v", event.Type, event.ID, event.DocumentID, err)
	}
}

func (b *Broadcaster) handleIncoming(event model.Event) {
	now := b.clock.Now()

	b.mu.Lock()
	b.metrics.MessagesReceived++
	latency := float64(now.Sub(event.Timestamp)) / float64(time.Millisecond)
	if latency < 0 {
		latency = 0
	}
	b.metrics.AverageLatency = EMA(b.metrics.AverageLatency, latency, LatencyAlpha)
	b.metrics.LastLatencyCheck = now
	handler := b.handler
	b.mu.Unlock()

	if event.ID != "" {
		if dup, _ := b.seen.ContainsOrAdd(event.ID, struct{}{}); dup {
			return
		}
	}
	if handler != nil {
		handler(event)
	}
}

// EMA folds sample into avg with weight alpha.
func EMA(avg, sample, alpha float64) float64 {
	return avg*(1-alpha) + sample*alpha
}

func (b *Broadcaster) IncConflictsResolved() {
	b.mu.Lock()
	b.metrics.ConflictsResolved++
	b.mu.Unlock()
}

func (b *Broadcaster) Metrics() model.Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// ConnectionStatus reports reconnecting while a retry is pending, otherwise
// the transport's own state.
func (b *Broadcaster) ConnectionStatus() model.ConnectionState {
	b.mu.Lock()
	attempts := b.attempts
	b.mu.Unlock()
	if attempts > 0 && attempts < b.cfg.MaxReconnectAttempts {
		return model.StateReconnecting
	}
	return b.transport.State()
}

func (b *Broadcaster) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Close stops reconnecting, closes the transport and drops every listener.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := b.transport.Close()
	b.wg.Wait()
	b.connection.Clear()
	return err
}

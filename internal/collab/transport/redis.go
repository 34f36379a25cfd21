package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/logger"
)

const DefaultRedisChannel = "naskah:collab:events"

// Redis fans events out over a pub/sub channel. Publishers are also
// subscribers, so every replica hears its own events.
type Redis struct {
	client  *redis.Client
	channel string

	mu           sync.Mutex
	sub          *redis.PubSub
	handler      Handler
	onDisconnect func(error)
	closed       bool
	done         chan struct{}
}

func NewRedis(opts *redis.Options, channel string) *Redis {
	return NewRedisWithClient(redis.NewClient(opts), channel)
}

func NewRedisWithClient(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransportInit, ErrClosed)
	}
	if r.sub != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %w", ErrTransportInit, err)
	}
	sub := r.client.Subscribe(ctx, r.channel)
	// wait for the subscription to be confirmed before reporting success
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("%w: subscribe %s: %w", ErrTransportInit, r.channel, err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.sub = sub
	r.done = done
	r.mu.Unlock()

	go r.listen(sub, done)
	return nil
}

func (r *Redis) listen(sub *redis.PubSub, done chan struct{}) {
	defer close(done)
	for msg := range sub.Channel() {
		event, err := model.DecodeEvent([]byte(msg.Payload))
		if err != nil {
			logger.Sugar.Warnf("dropping malformed event on %s: %v", msg.Channel, err)
			continue
		}
		r.mu.Lock()
		h := r.handler
		r.mu.Unlock()
		if h != nil {
			h(event)
		}
	}

	r.mu.Lock()
	closed := r.closed
	if r.sub == sub {
		r.sub = nil
	}
	fn := r.onDisconnect
	r.mu.Unlock()
	if !closed && fn != nil {
		fn(fmt.Errorf("redis subscription to %s ended", r.channel))
	}
}

func (r *Redis) Send(ctx context.Context, event model.Event) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	data, err := event.Encode()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) OnReceive(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Redis) OnDisconnect(fn func(error)) {
	r.mu.Lock()
	r.onDisconnect = fn
	r.mu.Unlock()
}

func (r *Redis) State() model.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return model.StateConnected
	}
	return model.StateDisconnected
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sub, done := r.sub, r.done
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			logger.Sugar.Warnf("closing redis subscription: %v", err)
		}
		<-done
	}
	return r.client.Close()
}

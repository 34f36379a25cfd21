// Package collab assembles the collaboration engine from configuration and
// serves the version archive over HTTP.
package collab

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"naskahcollab/config"
	"naskahcollab/internal/collab/broadcast"
	"naskahcollab/internal/collab/manager"
	"naskahcollab/internal/collab/session"
	"naskahcollab/internal/collab/transport"
)

// NewTransport builds the transport named by cfg.Transport.
func NewTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportSimulated:
		return transport.NewSimulated(), nil
	case config.TransportWebSocket:
		return transport.NewWebSocket(cfg.WSURL, cfg.WSToken), nil
	case config.TransportRedis:
		return transport.NewRedis(&redis.Options{Addr: cfg.RedisAddr}, cfg.RedisChannel), nil
	case config.TransportKafka:
		return transport.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", transport.ErrTransportInit, cfg.Transport)
	}
}

func NewRegistry(cfg *config.Config) *session.Registry {
	return session.NewRegistry(
		session.WithConflictWindow(cfg.ConflictWindow),
		session.WithInactiveThreshold(cfg.InactiveThreshold),
	)
}

// NewManager builds a manager on a transport chosen by cfg. The manager owns
// the transport and closes it on Destroy.
func NewManager(ctx context.Context, cfg *config.Config, registry *session.Registry, opts ...manager.Option) (*manager.Manager, error) {
	t, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	b := broadcast.New(t, nil, broadcast.Config{
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BaseDelay:            cfg.ReconnectBaseDelay,
	})
	opts = append([]manager.Option{manager.WithHeartbeatInterval(cfg.HeartbeatInterval)}, opts...)
	return manager.New(ctx, registry, b, opts...), nil
}

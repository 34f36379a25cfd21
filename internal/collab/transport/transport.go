// Package transport moves collaboration events between replicas. Every
// implementation delivers an event to all subscribers of the channel,
// including the sender.
package transport

import (
	"context"
	"errors"

	"naskahcollab/internal/collab/model"
)

var (
	ErrTransportInit = errors.New("transport init failed")
	ErrNotConnected  = errors.New("transport not connected")
	ErrClosed        = errors.New("transport closed")
)

// Handler receives every delivered event. It may be called from any goroutine.
type Handler func(model.Event)

type Transport interface {
	// Connect establishes the channel. Failures wrap ErrTransportInit.
	Connect(ctx context.Context) error
	Send(ctx context.Context, event model.Event) error
	OnReceive(h Handler)
	// OnDisconnect is called when an established connection is lost.
	OnDisconnect(fn func(error))
	// State is either StateConnected or StateDisconnected.
	State() model.ConnectionState
	Close() error
}

var (
	_ Transport = (*Simulated)(nil)
	_ Transport = (*WebSocket)(nil)
	_ Transport = (*Redis)(nil)
	_ Transport = (*Kafka)(nil)
)

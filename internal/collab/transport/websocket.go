package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"naskahcollab/internal/collab/model"
	"naskahcollab/pkg/logger"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// WebSocket speaks to the relay hub. The hub echoes every event to all
// members of the document room, the sender included.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu           sync.Mutex
	writeMu      sync.Mutex
	conn         *websocket.Conn
	handler      Handler
	onDisconnect func(error)
	closed       bool
	done         chan struct{}
}

// NewWebSocket dials url on Connect. A non-empty token is sent as a bearer
// Authorization header.
func NewWebSocket(url, token string) *WebSocket {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebSocket{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
	}
}

func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransportInit, ErrClosed)
	}
	if w.conn != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: dial %s: %s: %w", ErrTransportInit, w.url, resp.Status, err)
		}
		return fmt.Errorf("%w: dial %s: %w", ErrTransportInit, w.url, err)
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.conn = conn
	w.done = done
	w.mu.Unlock()

	go w.readPump(conn, done)
	return nil
}

func (w *WebSocket) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			if w.conn == conn {
				w.conn = nil
			}
			fn := w.onDisconnect
			w.mu.Unlock()

			if !closed {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Sugar.Warnf("websocket read error: %v", err)
				}
				if fn != nil {
					fn(err)
				}
			}
			return
		}

		event, err := model.DecodeEvent(message)
		if err != nil {
			logger.Sugar.Warnf("dropping malformed event: %v", err)
			continue
		}
		w.mu.Lock()
		h := w.handler
		w.mu.Unlock()
		if h != nil {
			h(event)
		}
	}
}

func (w *WebSocket) Send(_ context.Context, event model.Event) error {
	w.mu.Lock()
	conn := w.conn
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	data, err := event.Encode()
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) OnReceive(h Handler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
}

func (w *WebSocket) OnDisconnect(fn func(error)) {
	w.mu.Lock()
	w.onDisconnect = fn
	w.mu.Unlock()
}

func (w *WebSocket) State() model.ConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return model.StateConnected
	}
	return model.StateDisconnected
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn, done := w.conn, w.done
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	err := conn.Close()
	<-done
	return err
}

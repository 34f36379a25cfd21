package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"naskahcollab/internal/collab/model"
)

// echoServer writes every frame it receives straight back to the client and
// records the Authorization header of the upgrade request. With drop set it
// hangs up right after the upgrade.
func echoServer(t *testing.T, auth chan<- string, drop bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if drop {
			return
		}
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocket_RoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := echoServer(t, auth, false)

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), "secret-token")
	var got collector
	ws.OnReceive(got.handle)

	require.NoError(t, ws.Connect(context.Background()))
	assert.Equal(t, "Bearer secret-token", <-auth)
	assert.Equal(t, model.StateConnected, ws.State())

	require.NoError(t, ws.Send(context.Background(), testEvent(t, "e1")))
	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "e1", got.snapshot()[0].ID)

	require.NoError(t, ws.Close())
	assert.Equal(t, model.StateDisconnected, ws.State())
	assert.ErrorIs(t, ws.Send(context.Background(), testEvent(t, "e2")), ErrClosed)
}

func TestWebSocket_ServerDropNotifies(t *testing.T) {
	auth := make(chan string, 1)
	srv := echoServer(t, auth, true)

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), "")
	defer ws.Close()
	dropped := make(chan error, 1)
	ws.OnDisconnect(func(err error) { dropped <- err })

	require.NoError(t, ws.Connect(context.Background()))
	assert.Empty(t, <-auth)

	select {
	case err := <-dropped:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	assert.Equal(t, model.StateDisconnected, ws.State())
}

func TestWebSocket_DialFailure(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/ws", "")
	err := ws.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTransportInit)
	assert.ErrorIs(t, ws.Send(context.Background(), testEvent(t, "e1")), ErrNotConnected)
}

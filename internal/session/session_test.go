package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandongregoryscott/pipegate/internal/registry"
	"github.com/brandongregoryscott/pipegate/internal/wire"
)

// newTestPair spins up a real WebSocket server and dials it, returning the
// server-side *websocket.Conn wrapped in a Session plus the raw client-side
// *websocket.Conn the test drives directly, standing in for the relay.
func newTestPair(t *testing.T) (*Session, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-connCh
	reg := registry.New()
	s := New("conn-1", serverConn, reg)
	require.NoError(t, reg.TryRegister("conn-1", s))
	s.Activate()
	go s.Run()

	return s, clientConn
}

func TestDispatchDeliversMatchingResponse(t *testing.T) {
	s, clientConn := newTestPair(t)

	go func() {
		_, payload, err := clientConn.ReadMessage()
		if err != nil {
			return
		}
		decoded, err := wire.Decode(string(payload))
		require.NoError(t, err)
		req := decoded.(*wire.RequestMessage)

		resp := wire.ResponseMessage{
			RequestID: req.RequestID,
			Status:    200,
			Headers:   []wire.Header{{Name: "Content-Type", Value: "text/plain"}},
			Body:      []byte("hello"),
		}
		encoded, err := wire.EncodeResponse(resp)
		require.NoError(t, err)
		_ = clientConn.WriteMessage(websocket.TextMessage, []byte(encoded))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := s.Dispatch(ctx, wire.RequestMessage{Method: "GET", Path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("hello"), resp.Body)
}

func TestDispatchHonorsContextCancellation(t *testing.T) {
	s, _ := newTestPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Dispatch(ctx, wire.RequestMessage{Method: "GET", Path: "/never-answered"})
	require.Error(t, err)
	assert.Equal(t, 0, s.PendingCount())
}

func TestDrainFailsPendingWaitersAndIsIdempotent(t *testing.T) {
	s, clientConn := newTestPair(t)
	_ = clientConn.Close()

	done := make(chan struct{})
	var dispatchErr error
	go func() {
		_, dispatchErr = s.Dispatch(context.Background(), wire.RequestMessage{Method: "GET", Path: "/x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not unblock after drain")
	}
	require.Error(t, dispatchErr)

	s.Drain(nil)
	s.Drain(nil)

	assert.True(t, s.Closed())
	assert.Equal(t, 0, s.PendingCount())
}

func TestSessionSatisfiesRegistryTunnel(t *testing.T) {
	var _ registry.Tunnel = (*Session)(nil)
}

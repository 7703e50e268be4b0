package httpgateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandongregoryscott/pipegate/internal/registry"
	"github.com/brandongregoryscott/pipegate/internal/session"
	"github.com/brandongregoryscott/pipegate/internal/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// relayEcho stands in for a connected client: it reads one RequestMessage
// and replies with a 200 echoing the request path.
func relayEcho(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_, payload, err := conn.ReadMessage()
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
		Body:      []byte("echo:" + req.Path),
	}
	encoded, err := wire.EncodeResponse(resp)
	require.NoError(t, err)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(encoded))
}

func newConnectedSession(t *testing.T, reg *registry.Registry, connID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- c
	}))
	t.Cleanup(wsSrv.Close)

	wsURL := "ws" + wsSrv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-connCh
	sess := session.New(connID, serverConn, reg)
	require.NoError(t, reg.TryRegister(connID, sess))
	sess.Activate()
	go sess.Run()

	return clientConn
}

func TestGatewayForwardsAndReturnsResponse(t *testing.T) {
	reg := registry.New()
	connID := uuid.NewString()
	clientConn := newConnectedSession(t, reg, connID)
	go relayEcho(t, clientConn)

	gw := New(reg, WithDispatchDeadline(2*time.Second))
	router := gin.New()
	gw.Register(router)

	req := httptest.NewRequest(http.MethodGet, "/"+connID+"/hello/world", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo:/hello/world", rec.Body.String())
}

func TestGatewayMalformedConnIDIs404(t *testing.T) {
	reg := registry.New()
	gw := New(reg)
	router := gin.New()
	gw.Register(router)

	req := httptest.NewRequest(http.MethodGet, "/not-a-uuid/anything", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayNoTunnelIs502(t *testing.T) {
	reg := registry.New()
	gw := New(reg)
	router := gin.New()
	gw.Register(router)

	connID := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/"+connID+"/anything", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGatewayRejectsOversizedBody(t *testing.T) {
	reg := registry.New()
	connID := uuid.NewString()
	clientConn := newConnectedSession(t, reg, connID)
	go relayEcho(t, clientConn)

	gw := New(reg, WithMaxBodyBytes(4))
	router := gin.New()
	gw.Register(router)

	req := httptest.NewRequest(http.MethodPost, "/"+connID+"/upload", strings.NewReader("way too big"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

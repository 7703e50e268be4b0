package clientrelay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandongregoryscott/pipegate/internal/auth"
	"github.com/brandongregoryscott/pipegate/internal/httpgateway"
	"github.com/brandongregoryscott/pipegate/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestOrigin stands in for the user's local server being tunneled to.
func newTestOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("path=" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTestServer wires a full gate+gateway router, standing in for the
// PipeGate server, and returns it plus the registry it shares with both.
func newTestServer(t *testing.T, token string) (*httptest.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	router := gin.New()
	auth.NewGate(auth.NewStaticTokenValidator(token), reg, nil).Register(router)
	httpgateway.New(reg).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestRelayForwardsTunneledRequestToLocalOrigin(t *testing.T) {
	origin := newTestOrigin(t)
	server, reg := newTestServer(t, "good-token")
	connID := uuid.NewString()

	relay := New(server.URL, connID, "good-token", origin.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup(connID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(server.URL + "/" + connID + "/some/path")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Origin"))
}

func TestRelayReturns502WhenOriginUnreachable(t *testing.T) {
	server, reg := newTestServer(t, "good-token")
	connID := uuid.NewString()

	// Port 1 is never a reachable origin in test environments.
	relay := New(server.URL, connID, "good-token", "http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup(connID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(server.URL + "/" + connID + "/anything")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

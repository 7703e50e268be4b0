package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandongregoryscott/pipegate/internal/auth"
	"github.com/brandongregoryscott/pipegate/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTunnel struct {
	connID  string
	pending int
}

func (f *fakeTunnel) ConnID() string    { return f.connID }
func (f *fakeTunnel) Closed() bool      { return false }
func (f *fakeTunnel) Drain(error)       {}
func (f *fakeTunnel) PendingCount() int { return f.pending }

func newAdminServer(t *testing.T, reg *registry.Registry) *httptest.Server {
	t.Helper()
	router := gin.New()
	NewHandler(reg, auth.NewStaticTokenValidator("admin-token")).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestListTunnelsRequiresToken(t *testing.T) {
	srv := newAdminServer(t, registry.New())

	resp, err := http.Get(srv.URL + "/admin/tunnels")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListTunnels(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.TryRegister("a", &fakeTunnel{connID: "a", pending: 2}))
	srv := newAdminServer(t, reg)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/tunnels", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tunnels []TunnelStatus `json:"tunnels"`
		Count   int            `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Tunnels, 1)
	assert.Equal(t, "a", body.Tunnels[0].ConnID)
	assert.Equal(t, 2, body.Tunnels[0].Pending)
}

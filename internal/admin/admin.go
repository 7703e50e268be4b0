// Package admin exposes PipeGate's operator-facing status endpoint: a
// bearer-token-gated, read-only JSON listing of connected tunnels. It
// never touches the data plane.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brandongregoryscott/pipegate/internal/auth"
	"github.com/brandongregoryscott/pipegate/internal/registry"
)

// TunnelStatus is one row of the /admin/tunnels listing.
type TunnelStatus struct {
	ConnID   string `json:"conn_id"`
	Pending  int    `json:"pending_requests"`
	IsClosed bool   `json:"closed"`
}

// Handler serves the admin status surface.
type Handler struct {
	reg       *registry.Registry
	validator auth.Validator
}

// NewHandler builds a Handler gated by validator (typically a static admin
// token distinct from the tunnel client token).
func NewHandler(reg *registry.Registry, validator auth.Validator) *Handler {
	return &Handler{reg: reg, validator: validator}
}

// Register installs the admin routes on router.
func (h *Handler) Register(router gin.IRouter) {
	router.GET("/admin/tunnels", h.listTunnels)
}

func (h *Handler) listTunnels(c *gin.Context) {
	token, ok := auth.ExtractToken(c.Request)
	if !ok || !h.validator.Validate(token) {
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	tunnels := h.reg.Snapshot()
	out := make([]TunnelStatus, 0, len(tunnels))
	for _, t := range tunnels {
		out = append(out, TunnelStatus{
			ConnID:   t.ConnID(),
			Pending:  t.PendingCount(),
			IsClosed: t.Closed(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tunnels": out, "count": len(out)})
}

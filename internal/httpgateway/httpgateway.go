// Package httpgateway is the public-facing HTTP surface: it accepts an
// inbound request addressed to a connection id, forwards it over that
// tunnel's session, and writes back whatever the local origin returned.
package httpgateway

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brandongregoryscott/pipegate/internal/apperr"
	"github.com/brandongregoryscott/pipegate/internal/logger"
	"github.com/brandongregoryscott/pipegate/internal/metrics"
	"github.com/brandongregoryscott/pipegate/internal/registry"
	"github.com/brandongregoryscott/pipegate/internal/session"
	"github.com/brandongregoryscott/pipegate/internal/wire"
)

const defaultDispatchDeadline = 30 * time.Second
const defaultMaxBodyBytes = 10 << 20 // 10 MiB

// Gateway forwards public HTTP requests to registered tunnel sessions.
type Gateway struct {
	reg              *registry.Registry
	dispatchDeadline time.Duration
	maxBodyBytes     int64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithDispatchDeadline overrides the default 30s dispatch deadline D.
func WithDispatchDeadline(d time.Duration) Option {
	return func(g *Gateway) { g.dispatchDeadline = d }
}

// WithMaxBodyBytes overrides the default 10 MiB request body cap.
func WithMaxBodyBytes(n int64) Option {
	return func(g *Gateway) { g.maxBodyBytes = n }
}

// New creates a Gateway dispatching through reg.
func New(reg *registry.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		reg:              reg,
		dispatchDeadline: defaultDispatchDeadline,
		maxBodyBytes:     defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register installs the catch-all forwarding route on router, matching
// /:conn_id/*path.
func (g *Gateway) Register(router gin.IRouter) {
	router.Any("/:conn_id/*path", g.handle)
}

func (g *Gateway) handle(c *gin.Context) {
	connID := c.Param("conn_id")
	if _, err := uuid.Parse(connID); err != nil {
		c.String(http.StatusNotFound, "unknown connection id")
		return
	}

	tun, ok := g.reg.Lookup(connID)
	if !ok {
		writeTunnelError(c, apperr.TunnelNotConnected(connID))
		return
	}
	sess, ok := tun.(*session.Session)
	if !ok || sess.Closed() {
		writeTunnelError(c, apperr.TunnelNotConnected(connID))
		return
	}

	body, err := readLimitedBody(c.Request.Body, g.maxBodyBytes)
	if err != nil {
		c.String(http.StatusRequestEntityTooLarge, "request body exceeds max_body_bytes")
		return
	}

	path := c.Param("path")
	if path == "" {
		path = "/"
	}
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		path = path + "?" + rawQuery
	}

	req := wire.RequestMessage{
		Method:  c.Request.Method,
		Path:    path,
		Headers: wire.StripHopByHop(headersToWire(c.Request.Header), true),
		Body:    body,
	}

	ctx, cancel := session.DeadlineContext(c.Request.Context(), g.dispatchDeadline)
	defer cancel()

	metrics.InflightRequests.Inc()
	start := time.Now()
	resp, err := sess.Dispatch(ctx, req)
	metrics.InflightRequests.Dec()
	metrics.ObserveDispatch(dispatchOutcome(err), time.Since(start).Seconds())
	if err != nil {
		writeTunnelError(c, err)
		return
	}

	for _, h := range resp.Headers {
		if wire.IsHopByHop(h.Name) {
			continue
		}
		c.Writer.Header().Add(h.Name, h.Value)
	}
	c.Data(resp.Status, c.Writer.Header().Get("Content-Type"), resp.Body)
}

func headersToWire(h http.Header) []wire.Header {
	out := make([]wire.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, wire.Header{Name: name, Value: v})
		}
	}
	return out
}

func readLimitedBody(r io.ReadCloser, limit int64) ([]byte, error) {
	defer r.Close()
	limited := io.LimitReader(r, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

var errBodyTooLarge = errors.New("httpgateway: request body too large")

func dispatchOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var te *apperr.TunnelError
	if errors.As(err, &te) {
		return strings.ToLower(string(te.Code))
	}
	return "unknown"
}

func writeTunnelError(c *gin.Context, err error) {
	var te *apperr.TunnelError
	if errors.As(err, &te) {
		logger.HTTP().Warn().Str("conn_id", c.Param("conn_id")).Str("code", string(te.Code)).Msg(te.Message)
		c.String(te.StatusCode, te.Message)
		return
	}
	logger.HTTP().Error().Err(err).Msg("unmapped dispatch error")
	c.String(http.StatusBadGateway, strings.TrimSpace(err.Error()))
}

package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brandongregoryscott/pipegate/internal/apperr"
	"github.com/brandongregoryscott/pipegate/internal/logger"
	"github.com/brandongregoryscott/pipegate/internal/metrics"
	"github.com/brandongregoryscott/pipegate/internal/registry"
	"github.com/brandongregoryscott/pipegate/internal/session"
)

const writeWait = 5 * time.Second

// Gate is the WebSocket handshake endpoint clients dial to establish a
// tunnel: parse conn_id, validate the bearer token, upgrade, register, and
// hand off to the session's reader loop.
type Gate struct {
	validator Validator
	reg       *registry.Registry
	presence  *registry.PresencePublisher
	upgrader  websocket.Upgrader
}

// NewGate builds a Gate. presence may be nil to disable presence mirroring.
func NewGate(validator Validator, reg *registry.Registry, presence *registry.PresencePublisher) *Gate {
	return &Gate{
		validator: validator,
		reg:       reg,
		presence:  presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// PipeGate tunnels cross arbitrary client networks; origin
			// checking is the token's job, not the WebSocket handshake's.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register installs the handshake route on router. The route shares its
// path root with the public forwarding route; the Upgrade header is what
// distinguishes a tunnel handshake from public traffic to a bare conn_id.
func (g *Gate) Register(router gin.IRouter) {
	router.GET("/:conn_id", g.handle)
}

func (g *Gate) handle(c *gin.Context) {
	log := logger.Auth()
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusNotFound, "not found")
		return
	}

	connID := c.Param("conn_id")
	if _, err := uuid.Parse(connID); err != nil {
		c.String(http.StatusBadRequest, "conn_id must be a UUID")
		return
	}

	token, ok := ExtractToken(c.Request)
	if !ok || !g.validator.Validate(token) {
		log.Warn().Str("conn_id", connID).Msg("rejected handshake: invalid or missing token")
		metrics.RecordConnect("unauthorized")
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("conn_id", connID).Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := session.New(connID, conn, g.reg)
	if err := g.reg.TryRegister(connID, sess); err != nil {
		log.Warn().Str("conn_id", connID).Msg("rejected handshake: connection id already in use")
		metrics.RecordConnect("conn_id_in_use")
		reason := "connection id already in use"
		var te *apperr.TunnelError
		if errors.As(err, &te) {
			reason = te.Message
		}
		closeWithCode(conn, 4409, reason)
		return
	}

	sess.OnDrain(func(cause error) {
		g.presence.Offline(connID)
	})
	sess.Activate()
	metrics.RecordConnect("ok")
	g.presence.Online(connID)

	log.Info().Str("conn_id", connID).Msg("tunnel established")
	sess.Run()
}

// closeWithCode sends a WebSocket close frame with a custom application
// code before tearing down the connection. 4409 mirrors HTTP 409 Conflict
// for the ConnIdInUse case, in the private/application close-code range.
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// Package clientrelay is the client side of the tunnel: it dials the
// PipeGate server, and for every RequestMessage it receives, replays the
// request against a local origin server and ships the reply back.
//
// One reader pump decodes inbound frames and fans each request out to its
// own goroutine; responses are written back under a send mutex, so the
// socket carries many independent request/response pairs at once.
package clientrelay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brandongregoryscott/pipegate/internal/apperr"
	"github.com/brandongregoryscott/pipegate/internal/logger"
	"github.com/brandongregoryscott/pipegate/internal/wire"
)

// Relay relays tunneled requests to a local origin server.
type Relay struct {
	serverURL string
	connID    string
	token     string
	localURL  string

	httpClient *http.Client

	sendMu sync.Mutex
	conn   *websocket.Conn

	wg sync.WaitGroup
}

// New creates a Relay. serverURL is the PipeGate server's base URL
// (ws:// or wss://, or http(s):// — the scheme is normalized), connID is
// the connection id this relay claims, token authenticates the handshake,
// and localURL is the origin server requests are replayed against.
func New(serverURL, connID, token, localURL string) *Relay {
	return &Relay{
		serverURL:  serverURL,
		connID:     connID,
		token:      token,
		localURL:   strings.TrimRight(localURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Run dials the server and serves requests until ctx is canceled or the
// connection drops. It returns nil only if ctx was canceled; any other
// return is a connection error callers may use to drive a reconnect loop.
func (r *Relay) Run(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("clientrelay: dial: %w", err)
	}
	r.conn = conn
	defer conn.Close()

	log := logger.Client()
	log.Info().Str("conn_id", r.connID).Msg("tunnel connected")

	done := make(chan error, 1)
	go func() { done <- r.readLoop(ctx) }()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		r.wg.Wait()
		return nil
	case err := <-done:
		r.wg.Wait()
		return err
	}
}

func (r *Relay) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(r.serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + r.connID

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	return conn, err
}

func (r *Relay) readLoop(ctx context.Context) error {
	log := logger.Client()
	for {
		_, payload, err := r.conn.ReadMessage()
		if err != nil {
			return err
		}

		decoded, err := wire.Decode(string(payload))
		if err != nil {
			log.Warn().Err(err).Msg("malformed frame from server")
			continue
		}

		req, ok := decoded.(*wire.RequestMessage)
		if !ok {
			log.Warn().Msg("server sent a non-request frame; ignoring")
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handle(ctx, req)
		}()
	}
}

func (r *Relay) handle(ctx context.Context, req *wire.RequestMessage) {
	resp := r.forward(ctx, req)
	encoded, err := wire.EncodeResponse(*resp)
	if err != nil {
		logger.Client().Error().Err(err).Msg("failed to encode response")
		return
	}
	if err := r.send(encoded); err != nil {
		logger.Client().Warn().Err(err).Msg("failed to send response")
	}
}

// forward replays req against the local origin and always returns a
// ResponseMessage: origin failures are mapped to a 502 with a diagnostic
// body rather than dropped, so the public caller gets a deterministic reply.
func (r *Relay) forward(ctx context.Context, req *wire.RequestMessage) *wire.ResponseMessage {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, r.localURL+req.Path, newBodyReader(req.Body))
	if err != nil {
		return originErrorResponse(req.RequestID, apperr.OriginError(err))
	}
	for _, h := range wire.StripHopByHop(req.Headers, false) {
		httpReq.Header.Add(h.Name, h.Value)
	}

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return originErrorResponse(req.RequestID, apperr.OriginError(err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return originErrorResponse(req.RequestID, apperr.OriginError(err))
	}

	return &wire.ResponseMessage{
		RequestID: req.RequestID,
		Status:    httpResp.StatusCode,
		Headers:   wire.StripHopByHop(headersToWire(httpResp.Header), false),
		Body:      body,
	}
}

func originErrorResponse(requestID string, cause *apperr.TunnelError) *wire.ResponseMessage {
	return &wire.ResponseMessage{
		RequestID: requestID,
		Status:    cause.StatusCode,
		Headers:   []wire.Header{{Name: "Content-Type", Value: "text/plain"}},
		Body:      []byte(cause.Error()),
	}
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return strings.NewReader(string(body))
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

func (r *Relay) send(payload string) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

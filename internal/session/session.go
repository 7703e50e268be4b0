// Package session implements the per-connected-client tunnel state: the
// WebSocket, the in-flight request table, and the dispatch/drain lifecycle.
//
// Dispatch mints a request id, records a one-shot channel under it, writes
// the frame, and suspends; the session's single reader goroutine delivers
// the matching response by looking the channel up and removing it. Many
// dispatches multiplex over the one socket with no ordering between them.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brandongregoryscott/pipegate/internal/apperr"
	"github.com/brandongregoryscott/pipegate/internal/logger"
	"github.com/brandongregoryscott/pipegate/internal/registry"
	"github.com/brandongregoryscott/pipegate/internal/wire"
)

// State is a Session's lifecycle stage.
type State int

const (
	StateRegistering State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// waiter is the one-shot rendezvous between the reader goroutine (producer,
// writes once) and Dispatch (consumer, reads once).
type waiter struct {
	ch chan *wire.ResponseMessage
}

// Session represents one connected client: exactly one WebSocket, owned
// exclusively by this Session for its lifetime.
type Session struct {
	connID string
	conn   *websocket.Conn
	reg    *registry.Registry

	sendMu sync.Mutex // serializes writes to conn

	mu          sync.Mutex // protects state, pending
	state       State
	pending     map[string]*waiter
	closedCause error

	nextReqID atomic.Uint64
	closeOnce sync.Once

	// onDrain, if set, is called exactly once when the session transitions
	// to Closed. Used by callers (e.g. the auth gate) to mirror presence.
	onDrain func(cause error)
}

// New creates a Session wrapping conn, not yet registered anywhere. Callers
// must register it with a *registry.Registry (via TryRegister) before
// treating it as Active.
func New(connID string, conn *websocket.Conn, reg *registry.Registry) *Session {
	return &Session{
		connID:  connID,
		conn:    conn,
		reg:     reg,
		state:   StateRegistering,
		pending: make(map[string]*waiter),
	}
}

// ConnID returns the connection ID this session is registered under.
func (s *Session) ConnID() string { return s.connID }

// Closed reports whether the session has reached the Closed state.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnDrain registers a callback invoked once, when the session transitions to
// Closed. Must be called before Activate/Run.
func (s *Session) OnDrain(fn func(cause error)) {
	s.onDrain = fn
}

// Activate transitions the session from Registering to Active. Callers call
// this immediately after a successful registry.TryRegister.
func (s *Session) Activate() {
	s.mu.Lock()
	if s.state == StateRegistering {
		s.state = StateActive
	}
	s.mu.Unlock()
}

// Run executes the session's reader loop until the socket closes or a
// protocol error occurs, then drains. It blocks for the lifetime of the
// session and should be invoked in its own goroutine by the caller that
// performed the WebSocket upgrade.
func (s *Session) Run() {
	cause := s.readLoop()
	s.Drain(cause)
}

// readLoop is the session's single reader task (invariant 4: reads happen
// only here).
func (s *Session) readLoop() error {
	log := logger.Tunnel()
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Str("conn_id", s.connID).Err(err).Msg("tunnel socket closed")
			}
			return apperr.IOError(err)
		}

		decoded, err := wire.Decode(string(payload))
		if err != nil {
			log.Warn().Str("conn_id", s.connID).Err(err).Msg("malformed frame from client")
			return apperr.MalformedMessage(err.Error())
		}

		resp, ok := decoded.(*wire.ResponseMessage)
		if !ok {
			log.Warn().Str("conn_id", s.connID).Msg("client sent a request frame; protocol violation")
			return apperr.MalformedMessage("client may only send response frames")
		}

		s.deliver(resp)
	}
}

// deliver matches an inbound ResponseMessage to its waiter and hands it off.
// A lookup miss (the waiter already timed out or the session is draining)
// is not an error: the response is silently discarded.
func (s *Session) deliver(resp *wire.ResponseMessage) {
	s.mu.Lock()
	w, ok := s.pending[resp.RequestID]
	if ok {
		delete(s.pending, resp.RequestID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	w.ch <- resp
}

// mintRequestID returns a request id unique within this session's lifetime.
func (s *Session) mintRequestID() string {
	n := s.nextReqID.Add(1)
	return fmt.Sprintf("%s-%d", s.connID, n)
}

// Dispatch sends req over the tunnel and waits for the matching response,
// honoring ctx's cancellation (e.g. the originating public caller
// disconnecting) as well as the session's lifecycle.
func (s *Session) Dispatch(ctx context.Context, req wire.RequestMessage) (*wire.ResponseMessage, error) {
	req.RequestID = s.mintRequestID()

	s.mu.Lock()
	if s.state == StateDraining || s.state == StateClosed {
		s.mu.Unlock()
		return nil, apperr.TunnelClosed()
	}
	w := &waiter{ch: make(chan *wire.ResponseMessage, 1)}
	s.pending[req.RequestID] = w
	s.mu.Unlock()

	encoded, err := wire.EncodeRequest(req)
	if err != nil {
		s.removeWaiter(req.RequestID)
		return nil, apperr.MalformedMessage(err.Error())
	}

	if err := s.send(encoded); err != nil {
		s.removeWaiter(req.RequestID)
		s.Drain(apperr.IOError(err))
		return nil, apperr.TunnelClosed()
	}

	select {
	case resp, ok := <-w.ch:
		if !ok {
			return nil, apperr.TunnelClosed()
		}
		return resp, nil
	case <-ctx.Done():
		s.removeWaiter(req.RequestID)
		return nil, apperr.UpstreamTimeout()
	}
}

func (s *Session) removeWaiter(requestID string) {
	s.mu.Lock()
	delete(s.pending, requestID)
	s.mu.Unlock()
}

// send writes a single text frame, holding send_lock for the duration
// (invariant 4: writes happen only while holding send_lock).
func (s *Session) send(payload string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Drain transitions the session to Closed, failing every pending waiter with
// TunnelClosed, closing the socket, and unregistering from the registry.
// Idempotent: only the first call has any effect.
func (s *Session) Drain(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateDraining
		failed := s.pending
		s.pending = make(map[string]*waiter)
		s.mu.Unlock()

		for _, w := range failed {
			close(w.ch)
		}

		_ = s.conn.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.closedCause = cause
		s.mu.Unlock()

		if s.reg != nil {
			s.reg.Unregister(s.connID, s)
		}

		logger.Tunnel().Info().Str("conn_id", s.connID).AnErr("cause", cause).Msg("tunnel closed")

		if s.onDrain != nil {
			s.onDrain(cause)
		}
	})
}

// ClosedCause returns the error that caused the session to drain, if any.
func (s *Session) ClosedCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedCause
}

// PendingCount returns the number of in-flight requests awaiting a response.
// Used by the admin status endpoint.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

var _ registry.Tunnel = (*Session)(nil)

// DeadlineContext derives a context bound by both parent (so a public
// caller disconnecting cancels dispatch immediately) and a fixed dispatch
// deadline d, for callers to pass into Dispatch.
func DeadlineContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

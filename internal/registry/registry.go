// Package registry implements the process-wide mapping from connection ID to
// live tunnel session: a single map guarded by a short-lived mutex, since
// contention is low (one register/unregister per tunnel lifetime, one lookup
// per public request).
package registry

import (
	"sync"
	"time"

	"github.com/brandongregoryscott/pipegate/internal/apperr"
	"github.com/brandongregoryscott/pipegate/internal/metrics"
)

// Tunnel is the subset of session.Session the registry depends on. Defined
// here (rather than imported from package session) so registry has no
// dependency on session, avoiding an import cycle — session depends on
// registry to unregister itself on Drain.
type Tunnel interface {
	// ConnID returns the connection ID this tunnel was registered under.
	ConnID() string
	// Closed reports whether the tunnel has already reached the Closed state.
	Closed() bool
	// Drain tears the tunnel down: fails in-flight waiters, closes the
	// socket, and unregisters. Must be idempotent.
	Drain(cause error)
	// PendingCount returns the number of in-flight requests on the tunnel.
	PendingCount() int
}

// Registry is the process-wide connection-id -> Tunnel map.
type Registry struct {
	mu      sync.RWMutex
	tunnels map[string]Tunnel
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tunnels: make(map[string]Tunnel)}
}

// TryRegister atomically inserts t under connID. If an entry already exists
// and its tunnel is not yet Closed, registration fails with ConnIdInUse. A
// stale entry left behind by a tunnel that closed without unregistering
// (shouldn't normally happen, but defends against it) is replaced.
func (r *Registry) TryRegister(connID string, t Tunnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tunnels[connID]; ok && !existing.Closed() {
		return apperr.ConnIDInUse(connID)
	}
	r.tunnels[connID] = t
	metrics.ActiveTunnels.Set(float64(len(r.tunnels)))
	return nil
}

// Lookup returns the tunnel registered for connID, if any.
func (r *Registry) Lookup(connID string) (Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[connID]
	return t, ok
}

// Unregister removes connID's entry only if the stored tunnel is identical
// (by interface value, i.e. pointer identity of the underlying session) to
// t. This stops a late-closing superseded session from evicting its
// successor.
func (r *Registry) Unregister(connID string, t Tunnel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tunnels[connID]; ok && existing == t {
		delete(r.tunnels, connID)
		metrics.ActiveTunnels.Set(float64(len(r.tunnels)))
	}
}

// Snapshot returns the currently registered tunnels. Used for shutdown
// (draining every tunnel) and the admin status endpoint. Iteration order is
// unspecified.
func (r *Registry) Snapshot() []Tunnel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tunnel, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, t)
	}
	return out
}

// Count returns the number of currently registered tunnels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}

// DrainAll drains every registered tunnel with cause, then waits up to
// timeout for them to unregister themselves. Used during server shutdown,
// after the listener has stopped accepting new upgrades.
func (r *Registry) DrainAll(cause error, timeout time.Duration) {
	for _, t := range r.Snapshot() {
		t.Drain(cause)
	}

	deadline := time.Now().Add(timeout)
	for r.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTunnel struct {
	connID  string
	closed  bool
	reg     *Registry
	drained int
}

func (f *fakeTunnel) ConnID() string    { return f.connID }
func (f *fakeTunnel) Closed() bool      { return f.closed }
func (f *fakeTunnel) PendingCount() int { return 0 }

func (f *fakeTunnel) Drain(cause error) {
	f.drained++
	f.closed = true
	if f.reg != nil {
		f.reg.Unregister(f.connID, f)
	}
}

func TestTryRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	a := &fakeTunnel{connID: "x"}
	b := &fakeTunnel{connID: "x"}

	require.NoError(t, r.TryRegister("x", a))
	err := r.TryRegister("x", b)
	require.Error(t, err)

	got, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Same(t, Tunnel(a), got)
}

func TestTryRegisterReplacesClosedEntry(t *testing.T) {
	r := New()
	a := &fakeTunnel{connID: "x", closed: true}
	b := &fakeTunnel{connID: "x"}

	require.NoError(t, r.TryRegister("x", a))
	require.NoError(t, r.TryRegister("x", b))

	got, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Same(t, Tunnel(b), got)
}

func TestUnregisterIsCompareByIdentity(t *testing.T) {
	r := New()
	old := &fakeTunnel{connID: "x", closed: true}
	next := &fakeTunnel{connID: "x"}

	require.NoError(t, r.TryRegister("x", old))
	require.NoError(t, r.TryRegister("x", next))

	// A late unregister from the superseded session must not evict its
	// successor.
	r.Unregister("x", old)

	got, ok := r.Lookup("x")
	require.True(t, ok)
	assert.Same(t, Tunnel(next), got)

	r.Unregister("x", next)
	_, ok = r.Lookup("x")
	assert.False(t, ok)
}

func TestLookupMiss(t *testing.T) {
	r := New()
	_, ok := r.Lookup("missing")
	assert.False(t, ok)
}

func TestSnapshotAndCount(t *testing.T) {
	r := New()
	require.NoError(t, r.TryRegister("a", &fakeTunnel{connID: "a"}))
	require.NoError(t, r.TryRegister("b", &fakeTunnel{connID: "b"}))

	assert.Equal(t, 2, r.Count())
	assert.Len(t, r.Snapshot(), 2)
}

func TestDrainAllEmptiesRegistry(t *testing.T) {
	r := New()
	a := &fakeTunnel{connID: "a", reg: r}
	b := &fakeTunnel{connID: "b", reg: r}
	require.NoError(t, r.TryRegister("a", a))
	require.NoError(t, r.TryRegister("b", b))

	r.DrainAll(nil, time.Second)

	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 1, a.drained)
	assert.Equal(t, 1, b.drained)
}

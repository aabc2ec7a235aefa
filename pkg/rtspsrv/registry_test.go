package rtspsrv

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *connectionRegistry {
	t.Helper()
	return newConnectionRegistry(slog.Default())
}

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	c := newConnection(server)
	c.assignSessionID()
	return c
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := newTestRegistry(t)
	c := newTestConnection(t)

	r.add(c)
	got, ok := r.get(c.SessionID())
	require.True(t, ok)
	require.Same(t, c, got)

	r.remove(c.SessionID())
	_, ok = r.get(c.SessionID())
	require.False(t, ok)
}

func TestRegistryPlayingOnlyReturnsPlayingConnections(t *testing.T) {
	r := newTestRegistry(t)

	ready := newTestConnection(t)
	ready.setState(stateReady)
	r.add(ready)

	playing := newTestConnection(t)
	playing.setState(statePlaying)
	r.add(playing)

	got := r.playing()
	require.Len(t, got, 1)
	require.Same(t, playing, got[0])
}

func TestRegistrySweepEvictsIdleConnections(t *testing.T) {
	r := newTestRegistry(t)

	c := newTestConnection(t)
	c.setState(statePlaying)
	r.add(c)

	c.mu.Lock()
	c.lastActivity = time.Now().Add(-2 * connectionIdleTimeout)
	c.mu.Unlock()

	r.sweepOnce()

	_, ok := r.get(c.SessionID())
	require.False(t, ok)
	require.Equal(t, stateTeardown, c.getState())
	require.Equal(t, uint64(1), r.evictions)
}

func TestRegistrySweepKeepsActiveConnections(t *testing.T) {
	r := newTestRegistry(t)

	c := newTestConnection(t)
	c.setState(statePlaying)
	r.add(c)
	c.touch()

	r.sweepOnce()

	_, ok := r.get(c.SessionID())
	require.True(t, ok)
	require.Equal(t, uint64(0), r.evictions)
}

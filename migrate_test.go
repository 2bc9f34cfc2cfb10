package aqua

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailoverEngineNodeAvailableByDefault(t *testing.T) {
	srv := statsServer()
	defer srv.Close()
	n := testNode(t, srv, "a")

	f := newFailoverEngine()
	assert.True(t, f.nodeAvailable(n))
}

func TestFailoverEngineMarkCooldownMakesNodeUnavailable(t *testing.T) {
	srv := statsServer()
	defer srv.Close()
	n := testNode(t, srv, "a")

	f := newFailoverEngine()
	f.markCooldown(n)
	assert.False(t, f.nodeAvailable(n))
}

func TestFailoverEngineAvailableFiltersOutCooledDownNodes(t *testing.T) {
	srv := statsServer()
	defer srv.Close()
	busy := testNode(t, srv, "busy")
	free := testNode(t, srv, "free")

	f := newFailoverEngine()
	f.markCooldown(busy)

	got := f.available([]*Node{busy, free})
	require.Len(t, got, 1)
	assert.Same(t, free, got[0])
}

func TestFailoverEngineNodeAvailableAfterCooldownExpires(t *testing.T) {
	srv := statsServer()
	defer srv.Close()
	n := testNode(t, srv, "a")

	f := newFailoverEngine()
	f.mu.Lock()
	f.cooldown[n.Name()] = time.Now().Add(-time.Second)
	f.mu.Unlock()

	assert.True(t, f.nodeAvailable(n))
}

func TestFailoverEngineAttemptIncrementsPerGuild(t *testing.T) {
	f := newFailoverEngine()
	assert.Equal(t, 1, f.attempt("G1"))
	assert.Equal(t, 2, f.attempt("G1"))
	assert.Equal(t, 1, f.attempt("G2"))
}

func TestFailoverEngineResetClearsAttemptCount(t *testing.T) {
	f := newFailoverEngine()
	f.attempt("G1")
	f.attempt("G1")
	f.reset("G1")
	assert.Equal(t, 1, f.attempt("G1"))
}

func TestExcludeNode(t *testing.T) {
	srv := statsServer()
	defer srv.Close()
	a := testNode(t, srv, "a")
	b := testNode(t, srv, "b")

	got := excludeNode([]*Node{a, b}, a)
	require.Len(t, got, 1)
	assert.Same(t, b, got[0])
}

func TestNodeFailoverWithNoPlayersEmitsNothing(t *testing.T) {
	srv := statsServer()
	defer srv.Close()

	opts := NewOptions("client1", func(VoiceJoinPacket) error { return nil })
	orch := NewOrchestrator(opts, nil, "aqua-test")
	node := testNode(t, srv, "empty-node")
	orch.nodes["empty-node"] = node

	events := orch.Events()
	orch.nodeFailover(node)

	// A node with no players short-circuits before emitting anything.
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for a node with no players: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

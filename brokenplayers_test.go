package aqua

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalPlayer(guildID string) *Player {
	return &Player{guildID: guildID, queue: NewQueue()}
}

func TestBrokenPlayersPoolCaptureAndEntriesForNode(t *testing.T) {
	b := newBrokenPlayersPool()
	p := minimalPlayer("G1")
	b.capture(p, "node-a")

	entries := b.entriesForNode("node-a")
	require.Len(t, entries, 1)
	assert.Equal(t, "G1", entries[0].snapshot.GuildID)
	assert.Equal(t, "node-a", entries[0].originalNodeName)
}

func TestBrokenPlayersPoolEntriesForNodeFiltersByNode(t *testing.T) {
	b := newBrokenPlayersPool()
	b.capture(minimalPlayer("G1"), "node-a")
	b.capture(minimalPlayer("G2"), "node-b")

	assert.Len(t, b.entriesForNode("node-a"), 1)
	assert.Len(t, b.entriesForNode("node-b"), 1)
	assert.Empty(t, b.entriesForNode("node-c"))
}

func TestBrokenPlayersPoolEntriesForNodePrunesExpired(t *testing.T) {
	b := newBrokenPlayersPool()
	b.capture(minimalPlayer("G1"), "node-a")

	b.mu.Lock()
	e := b.entries["G1"]
	e.brokenAt = time.Now().Add(-brokenPlayerTTL - time.Second)
	b.entries["G1"] = e
	b.mu.Unlock()

	assert.Empty(t, b.entriesForNode("node-a"))

	b.mu.Lock()
	_, stillPresent := b.entries["G1"]
	b.mu.Unlock()
	assert.False(t, stillPresent, "expired entry should be pruned from the map, not just filtered from the result")
}

func TestBrokenPlayersPoolRemove(t *testing.T) {
	b := newBrokenPlayersPool()
	b.capture(minimalPlayer("G1"), "node-a")
	b.remove("G1")
	assert.Empty(t, b.entriesForNode("node-a"))
}

func TestBrokenPlayersPoolTryLockUnlock(t *testing.T) {
	b := newBrokenPlayersPool()
	assert.True(t, b.tryLock("G1"))
	assert.False(t, b.tryLock("G1"), "a second tryLock before unlock must fail")
	b.unlock("G1")
	assert.True(t, b.tryLock("G1"), "tryLock should succeed again after unlock")
}

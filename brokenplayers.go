package aqua

import (
	"sync"
	"time"
)

// brokenPlayerTTL bounds how long a captured broken-player entry survives
// waiting for its original node to come back.
const brokenPlayerTTL = 300 * time.Second

type brokenPlayerEntry struct {
	snapshot         PlayerSnapshot
	originalNodeName string
	brokenAt         time.Time
}

// brokenPlayersPool captures Player state when their Node disconnects so it
// can be replayed once that same Node (by name) comes back READY. Rebuilds
// are serialized per guild by rebuildLocks.
type brokenPlayersPool struct {
	mu           sync.Mutex
	entries      map[string]brokenPlayerEntry
	rebuildLocks map[string]bool
}

func newBrokenPlayersPool() *brokenPlayersPool {
	return &brokenPlayersPool{
		entries:      make(map[string]brokenPlayerEntry),
		rebuildLocks: make(map[string]bool),
	}
}

func (b *brokenPlayersPool) capture(p *Player, nodeName string) {
	p.mu.Lock()
	snapshot := p.captureSnapshotLocked()
	p.mu.Unlock()

	b.mu.Lock()
	b.entries[snapshot.GuildID] = brokenPlayerEntry{
		snapshot:         snapshot,
		originalNodeName: nodeName,
		brokenAt:         time.Now(),
	}
	b.mu.Unlock()
}

// entriesForNode returns every unexpired entry captured from nodeName,
// pruning expired ones as it scans.
func (b *brokenPlayersPool) entriesForNode(nodeName string) []brokenPlayerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var out []brokenPlayerEntry
	for guildID, e := range b.entries {
		if e.originalNodeName != nodeName {
			continue
		}
		if now.Sub(e.brokenAt) > brokenPlayerTTL {
			delete(b.entries, guildID)
			continue
		}
		out = append(out, e)
	}
	return out
}

func (b *brokenPlayersPool) remove(guildID string) {
	b.mu.Lock()
	delete(b.entries, guildID)
	b.mu.Unlock()
}

func (b *brokenPlayersPool) tryLock(guildID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rebuildLocks[guildID] {
		return false
	}
	b.rebuildLocks[guildID] = true
	return true
}

func (b *brokenPlayersPool) unlock(guildID string) {
	b.mu.Lock()
	delete(b.rebuildLocks, guildID)
	b.mu.Unlock()
}

// captureBrokenPlayersForNode snapshots every still-live Player bound to n,
// called from Node.handleClose before the reconnect backoff is armed.
func (o *Orchestrator) captureBrokenPlayersForNode(n *Node) {
	for _, p := range n.playersSnapshot() {
		if p.IsDestroyed() {
			continue
		}
		o.broken.capture(p, n.Name())
	}
}

// rebuildBrokenPlayersOnNode replays every unexpired broken-player entry
// captured from n back onto n, called once n reports READY again. Rebuild
// is ordered after READY ordering guarantees, and serialized
// per guild so two rebuilds of the same guild never run at once; a guild
// already being rebuilt is skipped. CreateConnection does not take these
// locks.
func (o *Orchestrator) rebuildBrokenPlayersOnNode(n *Node) {
	for _, e := range o.broken.entriesForNode(n.Name()) {
		guildID := e.snapshot.GuildID
		if !o.broken.tryLock(guildID) {
			continue
		}
		go o.rebuildOne(n, e)
	}
}

func (o *Orchestrator) rebuildOne(n *Node, e brokenPlayerEntry) {
	guildID := e.snapshot.GuildID
	defer o.broken.unlock(guildID)
	defer o.broken.remove(guildID)

	if _, ok := o.getPlayer(guildID); ok {
		return
	}

	np, err := o.createPlayer(n, guildID)
	if err != nil {
		o.bus.emit(Event{Type: EventError, GuildID: guildID, Node: n, Err: err, Message: "broken player rebuild failed"})
		return
	}

	np.withLock(func() {
		np.textChannelID = e.snapshot.TextChannelID
		np.voiceChannelID = e.snapshot.VoiceChannelID
		np.deaf = e.snapshot.Deaf
		np.loop = e.snapshot.Loop
		np.isAutoplayEnabled = e.snapshot.IsAutoplayEnabled
		np.autoplaySeed = e.snapshot.AutoplaySeed
	})
	o.registerPlayer(guildID, np)

	if restoreErr := e.snapshot.restoreOnto(np, true); restoreErr != nil {
		np.emit(Event{Type: EventError, GuildID: guildID, Player: np, Err: restoreErr, Message: "broken player restore failed"})
	}
}

package aqua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keshon/aqua/pkg/util"
)

// Tunables.
const (
	failoverCooldown      = 5 * time.Second
	failoverMaxAttempts   = 5
	failoverMaxConcurrent = 10
)

// failoverEngine tracks per-node cooldowns and per-guild attempt counts for
// the worker-failover path "Worker failover" paragraph.
type failoverEngine struct {
	mu       sync.Mutex
	cooldown map[string]time.Time
	attempts map[string]int
}

func newFailoverEngine() *failoverEngine {
	return &failoverEngine{cooldown: make(map[string]time.Time), attempts: make(map[string]int)}
}

func (f *failoverEngine) nodeAvailable(n *Node) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.cooldown[n.Name()]
	return !ok || time.Now().After(until)
}

func (f *failoverEngine) available(candidates []*Node) []*Node {
	out := make([]*Node, 0, len(candidates))
	for _, n := range candidates {
		if f.nodeAvailable(n) {
			out = append(out, n)
		}
	}
	return out
}

func (f *failoverEngine) markCooldown(n *Node) {
	f.mu.Lock()
	f.cooldown[n.Name()] = time.Now().Add(failoverCooldown)
	f.mu.Unlock()
}

func (f *failoverEngine) attempt(guildID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[guildID]++
	return f.attempts[guildID]
}

func (f *failoverEngine) reset(guildID string) {
	f.mu.Lock()
	delete(f.attempts, guildID)
	f.mu.Unlock()
}

// movePlayerToNode moves a Player to target: capture state, destroy the
// old Player preserving its client-facing identity, recreate on target,
// splice in the last-known voice credentials, force a voice update, then
// restore queued/playing state.
func (o *Orchestrator) movePlayerToNode(p *Player, target *Node, reason string) (*Player, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrDestroyed
	}
	snapshot := p.captureSnapshotLocked()
	guildID := p.guildID
	voiceChannelID := p.voiceChannelID
	lastEndpoint := p.conn.endpoint
	lastToken := p.conn.token
	lastSessionID := p.conn.sessionID
	p.mu.Unlock()

	p.Destroy(DestroyOptions{
		PreserveClient:       true,
		SkipRemote:           true,
		PreserveMessage:      true,
		PreserveTracks:       true,
		PreserveReconnecting: true,
	})

	np, err := o.createPlayer(target, guildID)
	if err != nil {
		return nil, err
	}

	np.withLock(func() {
		np.textChannelID = snapshot.TextChannelID
		np.voiceChannelID = voiceChannelID
		np.deaf = snapshot.Deaf
		np.loop = snapshot.Loop
		np.isAutoplayEnabled = snapshot.IsAutoplayEnabled
		np.autoplaySeed = snapshot.AutoplaySeed
		np.previousIdentifiers = snapshot.PreviousIdentifiers
		np.nowPlayingMessageID = snapshot.NowPlayingMessageID
		np.connected = snapshot.Connected
		if lastEndpoint != "" && lastToken != "" {
			np.conn.endpoint = lastEndpoint
			np.conn.token = lastToken
			np.conn.sessionID = lastSessionID
			np.conn.lastEndpoint = lastEndpoint
			np.conn.lastVoiceDataUpdate = time.Now()
			np.conn.region = extractRegion(lastEndpoint)
			np.conn.flags &^= connVoiceDataStale
			np.conn.scheduleVoiceUpdate()
		}
	})

	o.registerPlayer(guildID, np)

	if restoreErr := snapshot.restoreOnto(np, o.opts.Failover.PreservePosition); restoreErr != nil {
		np.emit(Event{Type: EventError, GuildID: guildID, Player: np, Err: restoreErr, Message: "migration restore failed"})
	}

	o.bus.emit(Event{Type: EventPlayerMigrated, GuildID: guildID, OldPlayer: p, NewPlayer: np, TargetNode: target, Message: reason})
	return np, nil
}

// maybeMigrateForRegion is the Connection-side trigger: when
// autoRegionMigrate is on and a newly observed region doesn't match the
// current node's declared regions, defer one tick and migrate. Called with
// player.mu held by the caller; the actual move runs detached so it never
// blocks the holder.
func (o *Orchestrator) maybeMigrateForRegion(p *Player, region string) {
	if region == "" || region == unknownRegion {
		return
	}
	currentNode := p.node
	for _, r := range currentNode.Regions() {
		if r == region {
			return
		}
	}
	go func() {
		candidates := o.connectedNodesSnapshot()
		target := o.lb.findBestNodeForRegion(candidates, region)
		if target == nil || target == currentNode {
			return
		}
		if _, err := o.movePlayerToNode(p, target, "region"); err != nil {
			o.bus.emit(Event{Type: EventError, GuildID: p.guildID, Player: p, Err: err, Message: "region migration failed"})
		}
	}()
}

// nodeFailover runs the worker-failover engine for every Player still bound
// to node. Up to failoverMaxConcurrent migrations run
// concurrently; every guild gets an attempt regardless of others' outcome,
// matching nodeFailoverComplete's ok/failed accounting.
func (o *Orchestrator) nodeFailover(node *Node) {
	players := node.playersSnapshot()
	if len(players) == 0 {
		return
	}
	runID := uuid.NewString()
	o.trace.record("failover:start", map[string]any{"run": runID, "node": node.Name(), "players": len(players)})
	o.bus.emit(Event{Type: EventNodeFailover, Node: node, Payload: runID})

	errs := util.ParallelCollect(context.Background(), players, failoverMaxConcurrent, func(_ context.Context, p *Player) error {
		guildID := p.GuildID()
		if p.IsDestroyed() {
			return nil
		}
		if attempt := o.failover.attempt(guildID); attempt > failoverMaxAttempts {
			return fmt.Errorf("aqua: exceeded failover attempts for guild %s", guildID)
		}
		candidates := excludeNode(o.connectedNodesSnapshot(), node)
		candidates = o.failover.available(candidates)
		target := o.lb.choose(candidates)
		if target == nil {
			return ErrNoNode
		}
		if _, err := o.movePlayerToNode(p, target, "failover"); err != nil {
			return err
		}
		o.failover.reset(guildID)
		return nil
	})

	o.failover.markCooldown(node)

	var ok, failed []string
	for i, err := range errs {
		guildID := players[i].GuildID()
		if err != nil {
			failed = append(failed, guildID)
		} else {
			ok = append(ok, guildID)
		}
	}
	o.trace.record("failover:complete", map[string]any{"run": runID, "ok": ok, "failed": failed})
	o.bus.emit(Event{Type: EventNodeFailoverComplete, Node: node, Succeeded: ok, Failed: failed, Payload: runID})
}

func excludeNode(nodes []*Node, exclude *Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != exclude {
			out = append(out, n)
		}
	}
	return out
}

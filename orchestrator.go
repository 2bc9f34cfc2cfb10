package aqua

import (
	"context"
	"sync"
	"time"

	"github.com/keshon/aqua/pkg/jobmgr"
	"github.com/keshon/aqua/pkg/util"
)

// playerBatchSize bounds how many players restoreSnapshots rebuilds at once.
const playerBatchSize = 20

// CreateConnectionOptions tunes Orchestrator.CreateConnection.
type CreateConnectionOptions struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Deaf           bool
	Mute           bool
}

// Orchestrator is aqua's registry, lookup, and lifecycle root: C9 of the
// component design. It owns every Node and Player, the load balancer,
// worker-failover engine, broken-players pool, and optional trace ring.
type Orchestrator struct {
	mu sync.RWMutex

	opts       *Options
	bus        *eventBus
	libraryTag string

	nodes   map[string]*Node
	players map[string]*Player

	lb       *loadBalancer
	failover *failoverEngine
	broken   *brokenPlayersPool
	trace    *traceBuffer
	jobs     *jobmgr.Manager

	destroyed bool
}

// NewOrchestrator builds an Orchestrator with one Node per entry in
// nodeConfigs. No network activity happens until Init is called.
func NewOrchestrator(opts *Options, nodeConfigs []NodeConfig, libraryTag string) *Orchestrator {
	o := &Orchestrator{
		opts:       opts,
		bus:        newEventBus(),
		libraryTag: libraryTag,
		nodes:      make(map[string]*Node),
		players:    make(map[string]*Player),
		lb:         newLoadBalancer(opts.LoadBalancer),
		failover:   newFailoverEngine(),
		broken:     newBrokenPlayersPool(),
	}
	o.jobs = jobmgr.NewManager(func(msg string) {
		o.trace.record("job", msg)
	})
	if opts.DebugTrace {
		o.trace = newTraceBuffer(opts.TraceMaxEntries)
	}
	for _, cfg := range nodeConfigs {
		if cfg.Timeout <= 0 {
			cfg.Timeout = 15 * time.Second
		}
		o.nodes[cfg.Name] = newNode(o, cfg, libraryTag)
	}
	return o
}

// Events returns the Orchestrator's event stream. Call once; fan-out to
// multiple consumers is the caller's responsibility.
func (o *Orchestrator) Events() <-chan Event { return o.bus.Events() }

// Trace returns the last n diagnostic entries, or nil if DebugTrace is off.
func (o *Orchestrator) Trace(n int) []TraceEntry { return o.trace.last(n) }

// Nodes returns every configured Node, connected or not.
func (o *Orchestrator) Nodes() []*Node {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Node, 0, len(o.nodes))
	for _, n := range o.nodes {
		out = append(out, n)
	}
	return out
}

// Players returns every currently registered Player.
func (o *Orchestrator) Players() []*Player {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Player, 0, len(o.players))
	for _, p := range o.players {
		out = append(out, p)
	}
	return out
}

func (o *Orchestrator) connectedNodesSnapshot() []*Node {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Node, 0, len(o.nodes))
	for _, n := range o.nodes {
		if n.Connected() {
			out = append(out, n)
		}
	}
	return out
}

func (o *Orchestrator) chooseNode() (*Node, error) {
	n := o.lb.choose(o.connectedNodesSnapshot())
	if n == nil {
		return nil, ErrNoNode
	}
	return n, nil
}

func (o *Orchestrator) removeNode(n *Node) {
	o.mu.Lock()
	delete(o.nodes, n.Name())
	o.mu.Unlock()
}

// UpdateNodes reconciles the live node set against cfgs: new names are
// connected immediately, names no longer present are destroyed (their
// players go through the normal worker-failover path), and existing names
// are left untouched. Used by confwatch's hot-reload.
func (o *Orchestrator) UpdateNodes(ctx context.Context, cfgs []NodeConfig) {
	wanted := make(map[string]NodeConfig, len(cfgs))
	for _, cfg := range cfgs {
		wanted[cfg.Name] = cfg
	}

	o.mu.Lock()
	var toConnect []*Node
	var toRemove []*Node
	for name, cfg := range wanted {
		if _, ok := o.nodes[name]; !ok {
			if cfg.Timeout <= 0 {
				cfg.Timeout = 15 * time.Second
			}
			n := newNode(o, cfg, o.libraryTag)
			o.nodes[name] = n
			toConnect = append(toConnect, n)
		}
	}
	for name, n := range o.nodes {
		if _, ok := wanted[name]; !ok {
			toRemove = append(toRemove, n)
		}
	}
	o.mu.Unlock()

	for _, n := range toConnect {
		if err := n.connect(ctx); err != nil {
			o.bus.emit(Event{Type: EventNodeError, Node: n, Err: err})
		}
	}
	for _, n := range toRemove {
		n.destroy()
	}
	if len(toConnect) > 0 || len(toRemove) > 0 {
		o.lb.invalidate()
	}
}

func (o *Orchestrator) isDestroyed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.destroyed
}

// Init loads any persisted node sessions, connects every configured Node
// within NodeConnectTimeout, then restores persisted players.
func (o *Orchestrator) Init(ctx context.Context) error {
	if o.opts.Saver != nil {
		if sessions, err := o.opts.Saver.LoadNodeSessions(); err == nil {
			o.mu.Lock()
			for name, sid := range sessions {
				if n, ok := o.nodes[name]; ok {
					n.restClient.SetSessionID(sid)
					n.sessionID = sid
				}
			}
			o.mu.Unlock()
		}
	}

	nodes := o.Nodes()
	connectCtx, cancel := context.WithTimeout(ctx, o.opts.NodeConnectTimeout)
	defer cancel()
	limit := len(nodes)
	if limit == 0 {
		limit = 1
	}
	_ = util.ParallelCollect(connectCtx, nodes, limit, func(c context.Context, n *Node) error {
		return n.connect(c)
	})

	if o.opts.Saver != nil {
		if snapshots, err := o.opts.Saver.LoadPlayers(); err == nil && len(snapshots) > 0 {
			o.restoreSnapshots(snapshots)
		}
		_ = o.opts.Saver.Truncate()

		if o.opts.AutosaveInterval > 0 {
			_ = o.jobs.StartRecurring("persistence:autosave", o.opts.AutosaveInterval, func(context.Context) error {
				o.mu.RLock()
				nodes := make([]*Node, 0, len(o.nodes))
				for _, n := range o.nodes {
					nodes = append(nodes, n)
				}
				players := make([]*Player, 0, len(o.players))
				for _, p := range o.players {
					players = append(players, p)
				}
				o.mu.RUnlock()
				o.persistAll(players, nodes)
				return nil
			})
		}
	}
	return nil
}

// restoreSnapshots recreates a Player per snapshot, up to playerBatchSize
// concurrently, collecting (not aborting on) individual failures. Persisted
// snapshots carry URI-only tracks (a saved player never stores an Encoded
// payload); each is resolved against the chosen Node, bounded to
// maxTracksRestore per player.
func (o *Orchestrator) restoreSnapshots(snapshots []PlayerSnapshot) {
	errs := util.ParallelCollect(context.Background(), snapshots, playerBatchSize, func(_ context.Context, s PlayerSnapshot) error {
		node, err := o.chooseNode()
		if err != nil {
			return err
		}
		o.resolveSnapshotTracks(node, &s)
		p, err := o.createPlayer(node, s.GuildID)
		if err != nil {
			return err
		}
		p.withLock(func() {
			p.textChannelID = s.TextChannelID
			p.voiceChannelID = s.VoiceChannelID
		})
		o.registerPlayer(s.GuildID, p)
		return s.restoreOnto(p, o.opts.Failover.PreservePosition)
	})
	for i, err := range errs {
		if err != nil {
			o.bus.emit(Event{Type: EventError, GuildID: snapshots[i].GuildID, Err: err, Message: "player restore failed"})
		}
	}
}

// resolveSnapshotTracks fills in Encoded payloads for s.Current and as many
// of s.QueueSnapshot as fit within MaxTracksRestore. A track that fails to
// resolve is dropped rather than aborting the whole restore.
func (o *Orchestrator) resolveSnapshotTracks(node *Node, s *PlayerSnapshot) {
	budget := o.opts.MaxTracksRestore
	if budget <= 0 {
		budget = 20
	}
	if s.Current != nil && s.Current.Encoded == "" {
		requester := s.Current.Requester
		if t, err := node.resolveTrack(s.Current.URI); err == nil {
			t.Requester = requester
			s.Current = t
		} else {
			s.Current = nil
		}
		budget--
	}
	var resolved []*Track
	for _, t := range s.QueueSnapshot {
		if budget <= 0 {
			break
		}
		if t.Encoded != "" {
			resolved = append(resolved, t)
			continue
		}
		rt, err := node.resolveTrack(t.URI)
		budget--
		if err != nil {
			continue
		}
		resolved = append(resolved, rt)
	}
	s.QueueSnapshot = resolved
}

// Destroy tears down every Player and Node, persisting current state first
// if a Saver is configured.
func (o *Orchestrator) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	nodes := make([]*Node, 0, len(o.nodes))
	for _, n := range o.nodes {
		nodes = append(nodes, n)
	}
	players := make([]*Player, 0, len(o.players))
	for _, p := range o.players {
		players = append(players, p)
	}
	o.mu.Unlock()

	if o.opts.Saver != nil {
		o.persistAll(players, nodes)
	}

	o.jobs.StopAll()
	for _, p := range players {
		p.Destroy(DestroyOptions{})
	}
	for _, n := range nodes {
		n.destroy()
	}
}

// Save persists current node sessions and every registered Player's state
// without tearing anything down, for callers that want an out-of-band
// checkpoint (e.g. aquactl's save subcommand) in addition to the automatic
// save-on-Destroy and optional autosave paths.
func (o *Orchestrator) Save() error {
	if o.opts.Saver == nil {
		return ErrNoSaver
	}
	o.persistAll(o.Players(), o.Nodes())
	return nil
}

func (o *Orchestrator) persistAll(players []*Player, nodes []*Node) {
	sessions := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if sid := n.SessionID(); sid != "" {
			sessions[n.Name()] = sid
		}
	}
	_ = o.opts.Saver.SaveNodeSessions(sessions)
	for _, p := range players {
		p.mu.Lock()
		snap := p.captureSnapshotLocked()
		p.mu.Unlock()
		_ = o.opts.Saver.SavePlayer(snap)
	}
}

func (o *Orchestrator) getPlayer(guildID string) (*Player, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.players[guildID]
	return p, ok
}

func (o *Orchestrator) registerPlayer(guildID string, p *Player) {
	o.mu.Lock()
	o.players[guildID] = p
	o.mu.Unlock()
}

// Get returns the Player for guildID, or ErrPlayerNotFound.
func (o *Orchestrator) Get(guildID string) (*Player, error) {
	p, ok := o.getPlayer(guildID)
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return p, nil
}

func (o *Orchestrator) createPlayer(node *Node, guildID string) (*Player, error) {
	if node == nil {
		return nil, ErrNoNode
	}
	p := newPlayer(o, node, guildID)
	node.addPlayer(p)
	p.startWatchdog()
	return p, nil
}

// CreateConnection is the Orchestrator's get()/createPlayer() entry point:
// it returns the existing Player for guildID, reconnecting if the voice
// channel changed, or builds a new one on a load-balanced Node.
func (o *Orchestrator) CreateConnection(opts CreateConnectionOptions) (*Player, error) {
	if existing, ok := o.getPlayer(opts.GuildID); ok && !existing.IsDestroyed() {
		existing.mu.Lock()
		changed := opts.VoiceChannelID != "" && opts.VoiceChannelID != existing.voiceChannelID
		existing.mu.Unlock()
		if changed {
			if err := existing.SetVoiceChannel(opts.VoiceChannelID); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	node, err := o.chooseNode()
	if err != nil {
		return nil, err
	}
	p, err := o.createPlayer(node, opts.GuildID)
	if err != nil {
		return nil, err
	}
	o.registerPlayer(opts.GuildID, p)
	p.withLock(func() { p.textChannelID = opts.TextChannelID })

	if err := p.Connect(ConnectOptions{VoiceChannelID: opts.VoiceChannelID, Deaf: opts.Deaf, Mute: opts.Mute}); err != nil {
		return p, err
	}
	return p, nil
}

// DestroyPlayer removes guildID from the registry before tearing the
// Player down, preventing re-entrant lookups from observing a half-torn
// state.
func (o *Orchestrator) DestroyPlayer(guildID string) error {
	o.mu.Lock()
	p, ok := o.players[guildID]
	if ok {
		delete(o.players, guildID)
	}
	o.mu.Unlock()
	if !ok {
		return ErrPlayerNotFound
	}
	if p.node != nil {
		p.node.removePlayer(guildID)
	}
	p.Destroy(DestroyOptions{})
	return nil
}

// UpdateVoiceState is the gateway voice demux: it stamps a
// txId and routes to the owning Player's Connection.
func (o *Orchestrator) UpdateVoiceState(pkt VoicePacket) {
	switch pkt.Type {
	case VoicePacketServer:
		if pkt.Server == nil {
			return
		}
		p, ok := o.getPlayer(pkt.Server.GuildID)
		if !ok {
			return
		}
		p.withLock(func() {
			p.txID++
			p.conn.setServerUpdate(pkt.Server.Endpoint, pkt.Server.Token, p.txID)
		})
	case VoicePacketState:
		if pkt.State == nil || pkt.State.UserID != o.opts.ClientID {
			return
		}
		p, ok := o.getPlayer(pkt.State.GuildID)
		if !ok {
			return
		}
		p.withLock(func() {
			p.txID++
			p.conn.setStateUpdate(pkt.State.SessionID, pkt.State.ChannelID, pkt.State.SelfDeaf, pkt.State.SelfMute, p.txID)
		})
	}
}

// handleNodeDestroyed removes n from the registry and, unless the
// Orchestrator itself is shutting down, runs the worker-failover engine for
// whatever Players were still bound to it.
func (o *Orchestrator) handleNodeDestroyed(n *Node) {
	o.removeNode(n)
	o.lb.invalidate()
	if o.isDestroyed() {
		return
	}
	o.nodeFailover(n)
}

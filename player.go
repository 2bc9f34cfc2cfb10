package aqua

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/keshon/aqua/internal/backoff"
	"github.com/keshon/aqua/rest"
)

// LoopMode is Player.loop.
type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "none"
	}
}

// ParseLoopMode accepts either a LoopMode-compatible int or one of the
// names "none"/"track"/"queue" setLoop.
func ParseLoopMode(v any) (LoopMode, error) {
	switch t := v.(type) {
	case LoopMode:
		return t, nil
	case int:
		if t < 0 || t > 2 {
			return 0, ErrInvalidLoopMode
		}
		return LoopMode(t), nil
	case string:
		switch t {
		case "none":
			return LoopNone, nil
		case "track":
			return LoopTrack, nil
		case "queue":
			return LoopQueue, nil
		}
	}
	return 0, ErrInvalidLoopMode
}

// PlayOptions tunes Player.Play.
type PlayOptions struct {
	Paused    bool
	StartTime time.Duration
	NoReplace bool
}

// ConnectOptions tunes Player.Connect.
type ConnectOptions struct {
	VoiceChannelID string
	Deaf           bool
	Mute           bool
}

// DestroyOptions tunes Player.Destroy.
type DestroyOptions struct {
	PreserveClient       bool
	SkipRemote           bool
	PreserveMessage      bool
	PreserveTracks       bool
	PreserveReconnecting bool
}

const (
	autoplayMax             = 3
	previousIdentifiersCap  = 20
	watchdogInterval        = 15 * time.Second
	voiceDownThreshold      = 10 * time.Second
	voiceAbandonMultiplier  = 3
	reconnectMax            = 3
	seekSettleDelay         = 800 * time.Millisecond
	pauseSettleDelay        = 1200 * time.Millisecond
)

// Player is the per-guild playback aggregate. All mutation
// happens under mu; exactly one goroutine's worth of logical ownership is
// enforced here by a lock rather than a dedicated run-loop goroutine, the
// same way its queue and history are guarded by a plain sync.Mutex.
type Player struct {
	mu sync.Mutex

	orch *Orchestrator
	node *Node
	conn *Connection

	guildID        string
	textChannelID  string
	voiceChannelID string

	volume  int
	loop    LoopMode
	playing bool
	paused  bool
	position time.Duration
	timestamp time.Time
	ping    time.Duration

	current  *Track
	queue    *Queue
	previous *circularBuffer

	destroyed bool
	connected bool
	deaf      bool
	mute      bool
	resuming  bool

	isAutoplayEnabled   bool
	autoplaySeed        string
	autoplayAttempts    int
	previousIdentifiers []string

	dataStore map[string]any

	batcher *updateBatcher

	txID                int64
	reconnectInFlight   bool
	nowPlayingMessageID string

	lastDisconnectSeen time.Time
	watchdogStop       func()
}

func newPlayer(orch *Orchestrator, node *Node, guildID string) *Player {
	p := &Player{
		orch:      orch,
		node:      node,
		guildID:   guildID,
		volume:    100,
		queue:     NewQueue(),
		previous:  newCircularBuffer(previousHistoryCap),
		dataStore: make(map[string]any),
	}
	p.conn = newConnection(p)
	p.batcher = newUpdateBatcher(node.restClient, guildID, func(err error) {
		p.withLock(func() {
			p.reconcileUpdateError(err)
			p.emit(Event{Type: EventError, GuildID: guildID, Player: p, Err: err, Message: "player update failed"})
		})
	})
	return p
}

// reconcileUpdateError inspects a failed player-PATCH response and reacts
// to the two 404 shapes a worker can return: one blaming a stale session
// id, which is recoverable by re-readying the Node; one blaming the
// player resource itself, meaning the remote player is already gone and
// the local Player must follow it. Caller holds p.mu.
func (p *Player) reconcileUpdateError(err error) {
	var apiErr *rest.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		return
	}
	if apiErr.MentionsSessionID() {
		if p.node != nil {
			p.node.clearSession()
		}
		return
	}
	guildID := p.guildID
	orch := p.orch
	if orch != nil {
		go orch.DestroyPlayer(guildID)
	}
}

// withLock runs fn under p.mu. Timer callbacks and Node dispatch both
// enter the Player exclusively through this.
func (p *Player) withLock(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func (p *Player) emit(ev Event) {
	if p.orch == nil {
		return
	}
	ev.GuildID = p.guildID
	if ev.Player == nil {
		ev.Player = p
	}
	p.orch.bus.emit(ev)
}

func (p *Player) restClient() *rest.Client {
	if p.node == nil {
		return nil
	}
	return p.node.restClient
}

// requestVoiceState asks the host gateway (through Orchestrator's
// configured send callback) to re-emit voice state, used by
// Connection.attemptResume when credentials are stale. Rate limiting is
// the caller's (Connection's) responsibility.
func (p *Player) requestVoiceState() {
	if p.orch == nil || p.orch.opts.SendVoiceUpdate == nil {
		return
	}
	pkt := newVoiceJoinPacket(p.guildID, p.voiceChannelID, p.mute, p.deaf)
	_ = p.orch.opts.SendVoiceUpdate(pkt)
}

// GuildID returns the guild this Player serves.
func (p *Player) GuildID() string { return p.guildID }

// Node returns the Node currently owning this Player.
func (p *Player) Node() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

// Snapshot-style read accessors, safe for concurrent use.
func (p *Player) IsPlaying() bool   { p.mu.Lock(); defer p.mu.Unlock(); return p.playing }
func (p *Player) IsPaused() bool    { p.mu.Lock(); defer p.mu.Unlock(); return p.paused }
func (p *Player) IsDestroyed() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.destroyed }
func (p *Player) Volume() int       { p.mu.Lock(); defer p.mu.Unlock(); return p.volume }
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}
func (p *Player) CurrentTrack() *Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.Clone()
}
func (p *Player) Queue() *Queue { return p.queue }

// Connect sends a voice-join packet and marks this Player connected. It is
// forbidden on a destroyed Player.
func (p *Player) Connect(opts ConnectOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	p.voiceChannelID = opts.VoiceChannelID
	p.deaf = opts.Deaf
	p.mute = opts.Mute
	p.connected = true
	if p.orch != nil && p.orch.opts.SendVoiceUpdate != nil {
		pkt := newVoiceJoinPacket(p.guildID, opts.VoiceChannelID, opts.Mute, opts.Deaf)
		return p.orch.opts.SendVoiceUpdate(pkt)
	}
	return nil
}

// Disconnect sends a voice-leave packet and marks this Player disconnected.
func (p *Player) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	p.connected = false
	if p.orch != nil && p.orch.opts.SendVoiceUpdate != nil {
		pkt := newVoiceJoinPacket(p.guildID, "", p.mute, p.deaf)
		return p.orch.opts.SendVoiceUpdate(pkt)
	}
	return nil
}

// Play starts playback of track, or the queue head if track is nil.
func (p *Player) Play(track *Track, opts PlayOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playLocked(track, opts)
}

// playLocked is Play's body, assuming p.mu is already held. Callers already
// inside the lock (handleTrackEnd, autoplayLocked) must call this directly —
// calling Play from within the lock re-enters sync.Mutex and deadlocks.
func (p *Player) playLocked(track *Track, opts PlayOptions) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if !p.connected {
		return ErrNotConnected
	}
	if track == nil {
		track = p.queue.Dequeue()
	}
	if track == nil {
		return ErrQueueEmpty
	}
	if !track.Valid() {
		return ErrMissingTrackInput
	}

	p.current = track
	p.playing = true
	p.paused = opts.Paused
	p.position = opts.StartTime
	p.timestamp = time.Now()
	p.recordIdentifier(track.Identifier)

	fields := rest.UpdatePlayerFields{
		Track: &rest.TrackUpdate{Encoded: strPtr(track.Encoded)},
	}
	if opts.StartTime > 0 {
		ms := opts.StartTime.Milliseconds()
		fields.Position = &ms
	}
	paused := opts.Paused
	fields.Paused = &paused
	p.batcher.batch(fields, opts.NoReplace, true)
	return nil
}

// Pause toggles playback. Idempotent; always an immediate update.
func (p *Player) Pause(paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	p.setPausedLocked(paused)
	return nil
}

func (p *Player) setPausedLocked(paused bool) {
	p.paused = paused
	v := paused
	p.batcher.batch(rest.UpdatePlayerFields{Paused: &v}, false, true)
}

// Seek moves playback position by delta, clamped to [0, duration] when
// duration is known.
func (p *Player) Seek(delta time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	if !p.playing {
		return ErrNoCurrentTrack
	}
	p.seekAbsoluteLocked(p.position + delta)
	return nil
}

func (p *Player) seekAbsoluteLocked(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	if p.current != nil && p.current.Duration > 0 && pos > p.current.Duration {
		pos = p.current.Duration
	}
	p.position = pos
	p.timestamp = time.Now()
	ms := pos.Milliseconds()
	p.batcher.batch(rest.UpdatePlayerFields{Position: &ms}, false, true)
}

// Stop clears the current track without destroying the Player.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.current != nil {
		p.current.Dispose()
		p.current = nil
	}
	p.playing = false
	p.paused = false
	p.position = 0
	p.batcher.batch(rest.UpdatePlayerFields{Track: &rest.TrackUpdate{Encoded: strPtr("")}}, false, true)
}

// SetVolume clamps v to [0,200] and issues a batched (non-immediate)
// update.
func (p *Player) SetVolume(v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	if v < 0 {
		v = 0
	}
	if v > 200 {
		v = 200
	}
	p.volume = v
	p.batcher.batch(rest.UpdatePlayerFields{Volume: &v}, false, false)
	return nil
}

// SetLoop validates and sets the loop mode.
func (p *Player) SetLoop(mode any) error {
	m, err := ParseLoopMode(mode)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = m
	return nil
}

// SetTextChannel updates the UI text channel for this Player.
func (p *Player) SetTextChannel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	p.textChannelID = id
	return nil
}

// SetVoiceChannel moves the Player to a new voice channel, forcing a
// reconnect of the voice-join packet.
func (p *Player) SetVoiceChannel(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	p.voiceChannelID = id
	if p.orch != nil && p.orch.opts.SendVoiceUpdate != nil {
		pkt := newVoiceJoinPacket(p.guildID, id, p.mute, p.deaf)
		return p.orch.opts.SendVoiceUpdate(pkt)
	}
	return nil
}

// Shuffle shuffles the pending queue.
func (p *Player) Shuffle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return ErrDestroyed
	}
	p.queue.Shuffle()
	return nil
}

// Replay seeks to the start of the current track.
func (p *Player) Replay() error { return p.Seek(-24 * time.Hour) }

// Skip stops the current track, letting the queue-end/trackEnd flow pick
// the next one.
func (p *Player) Skip() error { return p.Stop() }

// SetDataStore writes a value into the Player's free-form user map.
func (p *Player) SetDataStore(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dataStore[key] = value
}

// DataStore reads a value from the Player's free-form user map.
func (p *Player) DataStore(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.dataStore[key]
	return v, ok
}

func (p *Player) recordIdentifier(id string) {
	if id == "" {
		return
	}
	for _, existing := range p.previousIdentifiers {
		if existing == id {
			return
		}
	}
	p.previousIdentifiers = append(p.previousIdentifiers, id)
	if len(p.previousIdentifiers) > previousIdentifiersCap {
		p.previousIdentifiers = p.previousIdentifiers[len(p.previousIdentifiers)-previousIdentifiersCap:]
	}
}

// Destroy is the one-shot teardown. It is safe to call more
// than once; subsequent calls are no-ops.
func (p *Player) Destroy(opts DestroyOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyLocked(opts)
}

func (p *Player) destroyLocked(opts DestroyOptions) {
	if p.destroyed {
		return
	}
	p.destroyed = true

	if p.watchdogStop != nil {
		p.watchdogStop()
		p.watchdogStop = nil
	}
	p.batcher.stop()

	if !opts.PreserveMessage {
		p.nowPlayingMessageID = ""
	}
	if !opts.PreserveTracks {
		p.queue.Clear()
		p.previous.clear()
		p.dataStore = make(map[string]any)
	}
	if p.current != nil {
		p.current.Dispose()
		p.current = nil
	}
	if !opts.PreserveReconnecting {
		p.reconnectInFlight = false
	}

	if !opts.SkipRemote {
		client := p.restClient()
		guildID := p.guildID
		if client != nil {
			go client.DestroyPlayer(guildID)
		}
	}
	if !opts.PreserveClient && p.orch != nil && p.orch.opts.SendVoiceUpdate != nil {
		pkt := newVoiceJoinPacket(p.guildID, "", false, false)
		_ = p.orch.opts.SendVoiceUpdate(pkt)
	}

	p.emit(Event{Type: EventDestroy, GuildID: p.guildID, Player: p})
}

// captureSnapshot builds the in-memory snapshot used by both the
// reconnection sequence and worker migration. Caller holds player.mu.
func (p *Player) captureSnapshotLocked() PlayerSnapshot {
	posAdjusted := p.position
	if p.playing && !p.paused {
		posAdjusted += time.Since(p.timestamp)
	}
	if p.current != nil && p.current.Duration > 0 && posAdjusted > p.current.Duration {
		posAdjusted = p.current.Duration
	}
	var current *Track
	if p.current != nil {
		current = p.current.Clone()
	}
	return PlayerSnapshot{
		GuildID:             p.guildID,
		TextChannelID:       p.textChannelID,
		VoiceChannelID:      p.voiceChannelID,
		Volume:              p.volume,
		Paused:              p.paused,
		PositionAdjusted:    posAdjusted,
		Current:             current,
		QueueSnapshot:       p.queue.ToArray(),
		Loop:                p.loop,
		Shuffle:             false,
		Deaf:                p.deaf,
		Connected:           p.connected,
		PreviousIdentifiers: append([]string(nil), p.previousIdentifiers...),
		IsAutoplayEnabled:   p.isAutoplayEnabled,
		AutoplaySeed:        p.autoplaySeed,
		NowPlayingMessageID: p.nowPlayingMessageID,
	}
}

// autoplayLocked derives and plays a follow-up track when the queue is
// empty autoplay. Caller holds player.mu.
func (p *Player) autoplayLocked() {
	if !p.isAutoplayEnabled || p.autoplayAttempts >= autoplayMax {
		p.emit(Event{Type: EventAutoplayFailed, GuildID: p.guildID, Player: p})
		p.stopLocked()
		return
	}
	last := p.current
	if last == nil && p.previous.size() > 0 {
		last = p.previous.last()
	}
	if last == nil {
		p.stopLocked()
		return
	}
	provider := p.orch.opts.Autoplay
	p.autoplayAttempts++
	sourceName := last.SourceName
	seed := p.autoplaySeed
	guildID := p.guildID
	go func() {
		track, err := provider.NextTrack(sourceName, last, seed)
		p.withLock(func() {
			if p.destroyed {
				return
			}
			if err != nil {
				if p.autoplayAttempts >= autoplayMax {
					p.emit(Event{Type: EventAutoplayFailed, GuildID: guildID, Player: p, Err: err})
					p.stopLocked()
				}
				return
			}
			p.autoplayAttempts = 0
			_ = p.playLocked(track, PlayOptions{})
		})
	}()
}

// handleTrackEnd implements the trackEnd reaction table.
func (p *Player) handleTrackEnd(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	finished := p.current
	p.current = nil
	p.playing = false
	if finished != nil {
		p.previous.push(finished)
	}

	switch reason {
	case "loadFailed", "cleanup":
		if p.queue.Size() == 0 {
			p.dataStore = make(map[string]any)
			p.emit(Event{Type: EventQueueEnd, GuildID: p.guildID, Player: p})
			return
		}
		_ = p.playLocked(nil, PlayOptions{})
		return
	}

	if reason == "finished" {
		switch p.loop {
		case LoopTrack:
			if finished != nil {
				p.queue.EnqueueFront(finished.Clone())
			}
		case LoopQueue:
			if finished != nil {
				p.queue.Enqueue(finished.Clone())
			}
		}
	}

	if p.queue.Size() > 0 {
		_ = p.playLocked(nil, PlayOptions{})
		return
	}
	if p.isAutoplayEnabled && reason != "replaced" {
		p.autoplayLocked()
		return
	}
	p.stopLocked()
	if p.orch != nil && p.orch.opts.LeaveOnEnd {
		p.destroyLocked(DestroyOptions{})
	}
	p.emit(Event{Type: EventQueueEnd, GuildID: p.guildID, Player: p})
}

// socketClosed reacts to a worker WebSocket close table.
func (p *Player) socketClosed(code int, payload any) {
	p.mu.Lock()
	switch code {
	case 4022:
		p.mu.Unlock()
		p.emit(Event{Type: EventSocketClosed, GuildID: p.guildID, Player: p, Payload: payload})
		p.Destroy(DestroyOptions{})
		return
	case 4015:
		resuming := p.conn.attemptResume()
		p.mu.Unlock()
		if resuming {
			return
		}
		p.emit(Event{Type: EventSocketClosed, GuildID: p.guildID, Player: p, Payload: payload})
		return
	case 4014, 4009, 4006:
		p.mu.Unlock()
		p.beginReconnectionSequence()
		return
	default:
		p.mu.Unlock()
		p.emit(Event{Type: EventSocketClosed, GuildID: p.guildID, Player: p, Payload: payload})
	}
}

// beginReconnectionSequence is : destroy-and-recreate with a
// captured snapshot, retried up to reconnectMax times.
func (p *Player) beginReconnectionSequence() {
	p.mu.Lock()
	if p.reconnectInFlight || p.destroyed {
		p.mu.Unlock()
		return
	}
	p.reconnectInFlight = true
	snapshot := p.captureSnapshotLocked()
	orch := p.orch
	guildID := p.guildID
	voiceChannelID := p.voiceChannelID
	p.mu.Unlock()

	go func() {
		var lastErr error
		for attempt := 1; attempt <= reconnectMax; attempt++ {
			time.Sleep(backoff.ReconnectDelay(attempt))

			p.Destroy(DestroyOptions{PreserveClient: true, SkipRemote: true})

			np, err := orch.CreateConnection(CreateConnectionOptions{
				GuildID:        guildID,
				VoiceChannelID: voiceChannelID,
				TextChannelID:  snapshot.TextChannelID,
				Deaf:           snapshot.Deaf,
			})
			if err != nil {
				lastErr = err
				continue
			}

			np.withLock(func() {
				np.loop = snapshot.Loop
				np.isAutoplayEnabled = snapshot.IsAutoplayEnabled
				np.autoplaySeed = snapshot.AutoplaySeed
				np.previousIdentifiers = snapshot.PreviousIdentifiers
				if snapshot.Current != nil {
					np.queue.EnqueueFront(snapshot.Current.Clone())
				}
				for _, t := range snapshot.QueueSnapshot {
					np.queue.Enqueue(t.Clone())
				}
			})

			if snapshot.Current != nil {
				if playErr := np.Play(nil, PlayOptions{}); playErr == nil {
					pos := snapshot.PositionAdjusted
					paused := snapshot.Paused
					time.AfterFunc(seekSettleDelay, func() {
						if pos > 5*time.Second {
							_ = np.Seek(pos - np.Position())
						}
						if paused {
							time.AfterFunc(pauseSettleDelay-seekSettleDelay, func() {
								_ = np.Pause(true)
							})
						}
					})
				}
			}

			orch.bus.emit(Event{Type: EventPlayerReconnected, GuildID: guildID, OldPlayer: p, NewPlayer: np})
			np.withLock(func() { np.reconnectInFlight = false })
			return
		}

		orch.bus.emit(Event{Type: EventReconnectionFailed, GuildID: guildID, Player: p, Err: lastErr})
		orch.bus.emit(Event{Type: EventSocketClosed, GuildID: guildID, Player: p})
	}()
}

// startWatchdog launches the voice watchdog as a named
// recurring job on the Orchestrator's job manager. Called once from
// Orchestrator.createPlayer.
func (p *Player) startWatchdog() {
	if p.orch == nil || p.orch.jobs == nil {
		return
	}
	name := "watchdog:" + p.guildID
	_ = p.orch.jobs.StartRecurring(name, watchdogInterval, func(ctx context.Context) error {
		p.watchdogTick()
		return nil
	})
	p.watchdogStop = func() {
		_ = p.orch.jobs.Stop(name)
	}
}

func (p *Player) watchdogTick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || p.connected {
		return
	}
	if p.lastDisconnectSeen.IsZero() {
		p.lastDisconnectSeen = time.Now()
		return
	}
	down := time.Since(p.lastDisconnectSeen)
	if down < voiceDownThreshold {
		return
	}
	if p.conn.reconnectAttempts >= reconnectMax {
		return
	}
	if p.conn.credentialsValid() {
		p.conn.attemptResume()
		return
	}
	if down >= voiceDownThreshold*voiceAbandonMultiplier {
		p.destroyLocked(DestroyOptions{})
		return
	}
	p.toggleMuteLocked()
}

func (p *Player) toggleMuteLocked() {
	if p.orch == nil || p.orch.opts.SendVoiceUpdate == nil {
		return
	}
	on := newVoiceJoinPacket(p.guildID, p.voiceChannelID, true, p.deaf)
	_ = p.orch.opts.SendVoiceUpdate(on)
	time.AfterFunc(300*time.Millisecond, func() {
		p.withLock(func() {
			if p.destroyed {
				return
			}
			if p.orch.opts.SendVoiceUpdate != nil {
				off := newVoiceJoinPacket(p.guildID, p.voiceChannelID, p.mute, p.deaf)
				_ = p.orch.opts.SendVoiceUpdate(off)
			}
			p.conn.scheduleVoiceUpdate()
		})
	})
}

func strPtr(s string) *string { return &s }

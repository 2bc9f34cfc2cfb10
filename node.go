package aqua

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/keshon/aqua/internal/backoff"
	"github.com/keshon/aqua/rest"
)

// NodeState is the Node lifecycle.
type NodeState int

const (
	NodeIdle NodeState = iota
	NodeConnecting
	NodeReady
	NodeReconnecting
)

// fatalCloseCodes never trigger a reconnect; the Node is destroyed.
var fatalCloseCodes = map[int]bool{
	4003: true, 4004: true, 4010: true, 4011: true, 4012: true, 4015: true,
}

const (
	nodeInfoWatchdog = 10 * time.Second
	nodeDefaultTries = 3
)

// Node is a worker control plane connection — the WebSocket half that
// pairs with rest.Client's REST half.
type Node struct {
	mu sync.Mutex

	orch *Orchestrator
	cfg  NodeConfig

	restClient *rest.Client
	libraryTag string

	state             NodeState
	sessionID         string
	isDestroyed       bool
	reconnectAttempted int
	connected         bool

	info  *rest.Info
	stats rest.Stats

	players map[string]*Player

	conn       *websocket.Conn
	cancelRead context.CancelFunc
}

func newNode(orch *Orchestrator, cfg NodeConfig, libraryTag string) *Node {
	n := &Node{
		orch:       orch,
		cfg:        cfg,
		libraryTag: libraryTag,
		players:    make(map[string]*Player),
	}
	n.restClient = rest.NewClient(rest.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		SSL:         cfg.SSL,
		Auth:        cfg.Auth,
		UserID:      orch.opts.ClientID,
		LibraryName: libraryTag,
		RestVersion: orch.opts.RestVersion,
		Timeout:     cfg.Timeout,
		UseHTTP2:    orch.opts.UseHTTP2,
	})
	if cfg.SessionID != "" {
		n.restClient.SetSessionID(cfg.SessionID)
		n.sessionID = cfg.SessionID
	}
	return n
}

// Name returns the Node's configured name.
func (n *Node) Name() string { return n.cfg.Name }

// Regions returns the Node's declared affinity regions.
func (n *Node) Regions() []string { return n.cfg.Regions }

// Connected reports whether the Node currently has a live WS session.
func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

// Stats returns the most recently observed load snapshot.
func (n *Node) Stats() rest.Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// RestCalls returns the number of REST requests issued to this worker so
// far, used by the leastRest load-balancer policy.
func (n *Node) RestCalls() int64 {
	return n.restClient.Calls()
}

// SessionID returns the worker session id, or "" if never readied.
func (n *Node) SessionID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// clearSession drops the worker session id so the next control-plane
// message forces a fresh READY instead of resuming a session the worker
// no longer recognizes.
func (n *Node) clearSession() {
	n.mu.Lock()
	n.sessionID = ""
	n.mu.Unlock()
	n.restClient.SetSessionID("")
}

func (n *Node) wsURL() string {
	scheme := "ws"
	if n.cfg.SSL {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, n.cfg.Host, n.cfg.Port)
}

// connect opens the worker WebSocket and starts the read loop. On OPEN:
// flip connected, fetch /info with a 10s watchdog, emit NodeConnect.
func (n *Node) connect(ctx context.Context) error {
	n.mu.Lock()
	if n.isDestroyed {
		n.mu.Unlock()
		return ErrNodeDestroyed
	}
	n.state = NodeConnecting
	n.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", n.cfg.Auth)
	header.Set("User-Id", n.orch.opts.ClientID)
	header.Set("Client-Name", n.libraryTag)
	if sid := n.SessionID(); sid != "" {
		header.Set("Session-Id", sid)
	}

	dialer := websocket.Dialer{HandshakeTimeout: n.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, n.wsURL(), header)
	if err != nil {
		return &NetworkError{Op: "ws connect", Err: err}
	}

	n.mu.Lock()
	n.conn = conn
	n.connected = true
	n.state = NodeConnecting
	readCtx, cancel := context.WithCancel(context.Background())
	n.cancelRead = cancel
	n.mu.Unlock()

	n.orch.bus.emit(Event{Type: EventNodeConnect, Node: n})

	infoCtx, infoCancel := context.WithTimeout(ctx, nodeInfoWatchdog)
	go func() {
		defer infoCancel()
		if info, err := n.restClient.FetchInfo(infoCtx); err == nil {
			n.mu.Lock()
			n.info = info
			n.mu.Unlock()
		}
	}()

	go n.readLoop(readCtx, conn)
	n.startStatsPoll()
	return nil
}

// startStatsPoll registers a recurring GET /stats poll as a fallback to
// the worker's pushed "stats" WS frame, feeding internal/metrics.
// Re-registering on every connect is a no-op if the job is already
// running, since the name is stable per Node.
func (n *Node) startStatsPoll() {
	if n.orch.opts.StatsPollInterval <= 0 {
		return
	}
	_ = n.orch.jobs.StartRecurring("stats-poll:"+n.Name(), n.orch.opts.StatsPollInterval, func(context.Context) error {
		stats, err := n.restClient.FetchStats()
		if err != nil {
			return err
		}
		n.mu.Lock()
		n.stats = *stats
		n.mu.Unlock()
		return nil
	})
}

func (n *Node) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNoStatusReceived
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			n.handleClose(code)
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 || data[0] != '{' {
			continue
		}
		n.dispatch(data)
	}
}

// NetworkError is a transport-level failure at the Node's WS layer,
// mirroring rest.NetworkError's shape for consistent event payloads.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("aqua: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

type wireFrame struct {
	Op string `json:"op"`
}

func (n *Node) dispatch(data []byte) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Op == "" {
		n.orch.bus.emit(Event{Type: EventError, Node: n, Message: "malformed frame"})
		return
	}

	switch {
	case frame.Op == "stats":
		n.handleStats(data)
	case frame.Op == "ready":
		n.handleReady(data)
	case frame.Op == "playerUpdate":
		n.handlePlayerUpdate(data)
	case frame.Op == "event":
		n.handleWorkerEvent(data)
	case strings.HasPrefix(frame.Op, "Lyrics"):
		n.handleLyrics(frame.Op, data)
	default:
		n.orch.bus.emit(Event{Type: EventDebug, Node: n, Message: "unhandled op " + frame.Op, Payload: data})
	}
}

type statsFrame struct {
	Players        *int              `json:"players"`
	PlayingPlayers *int              `json:"playingPlayers"`
	Uptime         *int64            `json:"uptime"`
	Memory         *rest.MemoryStats `json:"memory"`
	CPU            *rest.CPUStats    `json:"cpu"`
	FrameStats     *rest.FrameStats  `json:"frameStats"`
}

func (n *Node) handleStats(data []byte) {
	var f statsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	n.mu.Lock()
	if f.Players != nil {
		n.stats.Players = *f.Players
	}
	if f.PlayingPlayers != nil {
		n.stats.PlayingPlayers = *f.PlayingPlayers
	}
	if f.Uptime != nil {
		n.stats.Uptime = *f.Uptime
	}
	if f.Memory != nil {
		n.stats.Memory = *f.Memory
	}
	if f.CPU != nil {
		n.stats.CPU = *f.CPU
	}
	if f.FrameStats != nil {
		n.stats.FrameStats = f.FrameStats
	}
	n.mu.Unlock()
}

type readyFrame struct {
	Resumed   bool   `json:"resumed"`
	SessionID string `json:"sessionId"`
}

func (n *Node) handleReady(data []byte) {
	var f readyFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}

	n.mu.Lock()
	previousSession := n.sessionID
	n.sessionID = f.SessionID
	n.restClient.SetSessionID(f.SessionID)
	n.state = NodeReady
	n.reconnectAttempted = 0
	invalidated := !f.Resumed && previousSession != "" && previousSession != f.SessionID
	var orphaned []*Player
	if invalidated {
		orphaned = make([]*Player, 0, len(n.players))
		for _, p := range n.players {
			orphaned = append(orphaned, p)
		}
	}
	n.mu.Unlock()

	n.orch.bus.emit(Event{Type: EventNodeReady, Node: n, Payload: f.Resumed})

	for _, p := range orphaned {
		n.orch.DestroyPlayer(p.GuildID())
	}

	if n.orch.opts.AutoResume {
		go func() {
			_ = n.restClient.UpdateSession(true, int(n.cfg.Timeout.Seconds()))
			n.orch.rebuildBrokenPlayersOnNode(n)
		}()
	}
}

type playerUpdateFrame struct {
	GuildID string                 `json:"guildId"`
	State   rest.PlayerRuntimeState `json:"state"`
}

func (n *Node) handlePlayerUpdate(data []byte) {
	var f playerUpdateFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	p := n.playerByGuild(f.GuildID)
	if p == nil {
		return
	}
	p.withLock(func() {
		p.position = time.Duration(f.State.Position) * time.Millisecond
		p.connected = f.State.Connected
		p.ping = time.Duration(f.State.Ping) * time.Millisecond
		p.timestamp = time.UnixMilli(f.State.Time)
	})
	p.emit(Event{Type: EventPlayerUpdate, Player: p, Payload: f.State})
}

type workerEventFrame struct {
	Op      string `json:"op"`
	Type    string `json:"type"`
	GuildID string `json:"guildId"`
	Track   *rest.WireTrack `json:"track,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Code    int    `json:"code,omitempty"`
	Payload json.RawMessage
}

func (n *Node) handleWorkerEvent(data []byte) {
	var f workerEventFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	f.Payload = data
	p := n.playerByGuild(f.GuildID)
	if p == nil {
		return
	}

	var track *Track
	if f.Track != nil {
		track = wireTrackToTrack(*f.Track)
	}

	switch wireEventType(f.Type) {
	case wireTrackStart:
		p.emit(Event{Type: EventTrackStart, Player: p, Track: track, Payload: f.Payload})
	case wireTrackEnd:
		p.emit(Event{Type: EventTrackEnd, Player: p, Track: track, Payload: f.Payload})
		p.handleTrackEnd(f.Reason)
	case wireTrackException:
		p.withLock(func() { p.stopLocked() })
		p.emit(Event{Type: EventTrackException, Player: p, Track: track, Payload: f.Payload})
	case wireTrackStuck:
		p.withLock(func() { p.stopLocked() })
		p.emit(Event{Type: EventTrackStuck, Player: p, Track: track, Payload: f.Payload})
	case wireTrackChange:
		p.emit(Event{Type: EventTrackChange, Player: p, Track: track, Payload: f.Payload})
	case wireWebSocketClosed:
		p.socketClosed(f.Code, f.Payload)
	default:
		p.emit(Event{Type: EventRaw, Player: p, Payload: f.Payload})
	}
}

func (n *Node) handleLyrics(op string, data []byte) {
	var f struct {
		GuildID string `json:"guildId"`
	}
	_ = json.Unmarshal(data, &f)
	p := n.playerByGuild(f.GuildID)

	var evType EventType
	switch wireEventType(op) {
	case wireLyricsFound:
		evType = EventLyricsFound
	case wireLyricsNotFound:
		evType = EventLyricsNotFound
	case wireLyricsLine:
		evType = EventLyricsLine
	default:
		evType = EventRaw
	}
	n.orch.bus.emit(Event{Type: evType, Player: p, Node: n, Payload: data})
}

func wireTrackToTrack(w rest.WireTrack) *Track {
	return &Track{
		Identifier: w.Info.Identifier,
		Encoded:    w.Encoded,
		Title:      w.Info.Title,
		Author:     w.Info.Author,
		URI:        w.Info.URI,
		SourceName: w.Info.SourceName,
		Duration:   time.Duration(w.Info.Length) * time.Millisecond,
		IsSeekable: w.Info.IsSeekable,
		IsStream:   w.Info.IsStream,
		Position:   time.Duration(w.Info.Position) * time.Millisecond,
		ArtworkURL: w.Info.ArtworkURL,
	}
}

func (n *Node) playerByGuild(guildID string) *Player {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.players[guildID]
}

func (n *Node) addPlayer(p *Player) {
	n.mu.Lock()
	n.players[p.guildID] = p
	n.mu.Unlock()
}

func (n *Node) removePlayer(guildID string) {
	n.mu.Lock()
	delete(n.players, guildID)
	n.mu.Unlock()
}

func (n *Node) playersSnapshot() []*Player {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Player, 0, len(n.players))
	for _, p := range n.players {
		out = append(out, p)
	}
	return out
}

// handleClose applies the worker's close-code table.
func (n *Node) handleClose(code int) {
	n.mu.Lock()
	n.connected = false
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	infinite := n.orch.opts.InfiniteReconnects
	n.mu.Unlock()

	if code == 1000 && !infinite {
		n.destroy()
		return
	}
	if fatalCloseCodes[code] {
		if code == 4011 {
			n.clearSession()
		}
		n.destroy()
		return
	}

	if code != 1001 {
		n.clearSession()
	}

	n.orch.bus.emit(Event{Type: EventNodeDisconnect, Node: n, Payload: code})
	n.orch.captureBrokenPlayersForNode(n)
	n.scheduleReconnect()
}

func (n *Node) scheduleReconnect() {
	n.mu.Lock()
	if n.isDestroyed {
		n.mu.Unlock()
		return
	}
	n.reconnectAttempted++
	attempt := n.reconnectAttempted
	infinite := n.orch.opts.InfiniteReconnects
	tries := nodeDefaultTries
	n.state = NodeReconnecting
	n.mu.Unlock()

	if !infinite && attempt > tries {
		n.destroy()
		return
	}

	delay := backoff.NodeDelay(attempt, n.cfg.Timeout, infinite)
	time.AfterFunc(delay, func() {
		if err := n.connect(context.Background()); err != nil {
			n.orch.bus.emit(Event{Type: EventNodeError, Node: n, Err: err})
			n.scheduleReconnect()
		}
	})
}

// destroy is the Node's one-shot teardown. Affected players migrate via
// the Orchestrator's failover path (handleNodeDestroyed, then
// nodeFailover).
func (n *Node) destroy() {
	n.mu.Lock()
	if n.isDestroyed {
		n.mu.Unlock()
		return
	}
	n.isDestroyed = true
	n.connected = false
	if n.cancelRead != nil {
		n.cancelRead()
	}
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.mu.Unlock()

	_ = n.orch.jobs.Stop("stats-poll:" + n.Name())
	n.orch.bus.emit(Event{Type: EventNodeDisconnect, Node: n})
	n.orch.handleNodeDestroyed(n)
}

// resolveTrack turns a bare URI into a playable Track via GET /loadtracks,
// used by Orchestrator.restoreSnapshots to fill in the Encoded payload that
// a saved player deliberately omits.
func (n *Node) resolveTrack(uri string) (*Track, error) {
	res, err := n.restClient.LoadTracks(uri)
	if err != nil {
		return nil, err
	}
	switch res.LoadType {
	case "track":
		var w rest.WireTrack
		if err := json.Unmarshal(res.Data, &w); err != nil {
			return nil, err
		}
		return wireTrackToTrack(w), nil
	case "search":
		var ws []rest.WireTrack
		if err := json.Unmarshal(res.Data, &ws); err != nil {
			return nil, err
		}
		if len(ws) == 0 {
			return nil, ErrMissingTrackInput
		}
		return wireTrackToTrack(ws[0]), nil
	case "playlist":
		var pd rest.PlaylistData
		if err := json.Unmarshal(res.Data, &pd); err != nil {
			return nil, err
		}
		if len(pd.Tracks) == 0 {
			return nil, ErrMissingTrackInput
		}
		idx := pd.Info.SelectedTrack
		if idx < 0 || idx >= len(pd.Tracks) {
			idx = 0
		}
		return wireTrackToTrack(pd.Tracks[idx]), nil
	default:
		return nil, ErrMissingTrackInput
	}
}

package aqua

import (
	"strconv"
	"strings"
	"time"

	"github.com/keshon/aqua/internal/backoff"
	"github.com/keshon/aqua/rest"
)

// connFlags is the Connection.stateFlags bitset.
type connFlags uint8

const (
	connConnected        connFlags = 1 << 0
	connUpdateScheduled  connFlags = 1 << 1
	connDisconnecting    connFlags = 1 << 2
	connAttemptingResume connFlags = 1 << 3
	connVoiceDataStale   connFlags = 1 << 4
)

func (f connFlags) has(bit connFlags) bool { return f&bit != 0 }

// Connection/Player tunables.
const (
	voiceDataTimeout    = 90 * time.Second
	voiceFlushDelay     = 50 * time.Millisecond
	nullChannelGraceMS  = 15 * time.Second
	maxReconnectAttempt = 3
	maxConsecutiveFail  = 5
	resumeRequestRate   = 1500 * time.Millisecond
)

// Connection is the voice state machine owned by exactly one Player.
// Every method assumes the owning Player's mutex is already held —
// Connection has no lock of its own; a Player/Connection pair is a single
// unit of cooperative execution.
type Connection struct {
	player *Player

	sessionID      string
	endpoint       string
	token          string
	region         string
	voiceChannelID string
	sequence       int64
	txID           int64
	flags          connFlags

	lastEndpoint        string
	lastVoiceDataUpdate time.Time
	stateGeneration     int64
	reconnectAttempts   int
	consecutiveFailures int

	nullChannelTimer *time.Timer
	voiceFlushTimer  *time.Timer
	pendingPayload   *voicePayload
	lastSentVoiceKey string
	lastResumeAsk    time.Time

	pool *payloadPool
}

func newConnection(p *Player) *Connection {
	return &Connection{player: p, pool: newPayloadPool()}
}

// credentialsValid reports whether sessionId/endpoint/token are all
// present and were refreshed within voiceDataTimeout.
func (c *Connection) credentialsValid() bool {
	if c.sessionID == "" || c.endpoint == "" || c.token == "" {
		return false
	}
	if c.flags.has(connVoiceDataStale) {
		return false
	}
	return time.Since(c.lastVoiceDataUpdate) <= voiceDataTimeout
}

// setServerUpdate applies a VOICE_SERVER_UPDATE packet. Caller holds
// player.mu.
func (c *Connection) setServerUpdate(endpoint, token string, txID int64) {
	if c.player.destroyed {
		return
	}
	if token == "" || endpoint == "" {
		return
	}
	if txID != 0 && txID < c.txID {
		return
	}
	if txID > c.txID {
		c.txID = txID
	}
	if endpoint == c.endpoint && token == c.token {
		return
	}

	c.stateGeneration++
	if endpoint != c.lastEndpoint {
		c.sequence = 0
		c.reconnectAttempts = 0
		c.consecutiveFailures = 0
		c.region = extractRegion(endpoint)
	}
	c.endpoint = endpoint
	c.token = token
	c.lastEndpoint = endpoint
	c.lastVoiceDataUpdate = time.Now()
	c.flags &^= connVoiceDataStale

	if c.player.paused {
		c.player.setPausedLocked(false)
	}

	if c.player.orch != nil && c.player.orch.opts.AutoRegionMigrate {
		c.player.orch.maybeMigrateForRegion(c.player, c.region)
	}

	c.scheduleVoiceUpdate()
}

// setStateUpdate applies a VOICE_STATE_UPDATE packet for our own client id.
// Caller holds player.mu.
func (c *Connection) setStateUpdate(sessionID, channelID string, selfDeaf, selfMute bool, txID int64) {
	if c.player.destroyed {
		return
	}
	if txID != 0 && txID < c.txID {
		return
	}
	if txID > c.txID {
		c.txID = txID
	}
	if channelID == "" {
		c.armNullChannelTimer()
		return
	}
	c.cancelNullChannelTimer()

	changed := false
	if channelID != c.voiceChannelID {
		c.voiceChannelID = channelID
		c.player.voiceChannelID = channelID
		c.player.emit(Event{Type: EventPlayerMove, GuildID: c.player.guildID, Player: c.player})
		c.player.resuming = true
		changed = true
	}
	if sessionID != "" && sessionID != c.sessionID {
		c.sessionID = sessionID
		c.lastVoiceDataUpdate = time.Now()
		changed = true
	}
	c.player.deaf = selfDeaf
	c.player.mute = selfMute
	c.flags |= connConnected
	c.player.connected = true
	c.player.lastDisconnectSeen = time.Time{}

	if changed {
		c.scheduleVoiceUpdate()
	}
}

func (c *Connection) armNullChannelTimer() {
	if c.nullChannelTimer != nil {
		return
	}
	p := c.player
	c.nullChannelTimer = time.AfterFunc(nullChannelGraceMS, func() {
		p.withLock(func() {
			if p.conn != c || p.destroyed {
				return
			}
			c.nullChannelTimer = nil
			c.disconnect()
		})
	})
}

func (c *Connection) cancelNullChannelTimer() {
	if c.nullChannelTimer != nil {
		c.nullChannelTimer.Stop()
		c.nullChannelTimer = nil
	}
}

// scheduleVoiceUpdate arms (or refreshes) the coalescing flush timer.
// Caller holds player.mu.
func (c *Connection) scheduleVoiceUpdate() {
	if c.pendingPayload == nil {
		c.pendingPayload = c.pool.acquire()
	}
	c.pendingPayload.SessionID = c.sessionID
	c.pendingPayload.Token = c.token
	c.pendingPayload.Endpoint = c.endpoint

	if c.flags.has(connUpdateScheduled) {
		return
	}
	c.flags |= connUpdateScheduled

	p := c.player
	c.voiceFlushTimer = time.AfterFunc(voiceFlushDelay, func() {
		p.withLock(c.flushVoiceUpdate)
	})
}

// flushVoiceUpdate sends the coalesced voice payload if its fingerprint
// changed since the last send. Caller holds player.mu.
func (c *Connection) flushVoiceUpdate() {
	c.flags &^= connUpdateScheduled
	payload := c.pendingPayload
	c.pendingPayload = nil
	if payload == nil || c.player.destroyed {
		return
	}
	key := c.fingerprint()
	if key == c.lastSentVoiceKey {
		c.pool.release(payload)
		return
	}
	if !c.credentialsValid() && c.sessionID == "" {
		c.pool.release(payload)
		return
	}

	client := c.player.restClient()
	c.pool.release(payload)
	if client == nil {
		return
	}
	fields := rest.UpdatePlayerFields{
		Voice: &rest.VoiceUpdate{Token: c.token, Endpoint: c.endpoint, SessionID: c.sessionID},
	}
	if c.lastSentVoiceKey == "" {
		volume := c.player.volume
		fields.Volume = &volume
	}
	guildID := c.player.guildID
	c.lastSentVoiceKey = key
	go func() {
		if _, err := client.UpdatePlayer(guildID, fields, false); err != nil {
			c.player.withLock(func() {
				c.player.reconcileUpdateError(err)
				c.player.emit(Event{Type: EventError, GuildID: guildID, Player: c.player, Err: err,
					Message: "voice update failed"})
			})
		}
	}()
}

// fingerprint identifies the voice payload content that matters for
// dedup: sessionId, token, endpoint, channelId, volume.
func (c *Connection) fingerprint() string {
	var b strings.Builder
	b.WriteString(c.sessionID)
	b.WriteByte('|')
	b.WriteString(c.token)
	b.WriteByte('|')
	b.WriteString(c.endpoint)
	b.WriteByte('|')
	b.WriteString(c.voiceChannelID)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(c.player.volume))
	return b.String()
}

// attemptResume runs the resume protocol. Caller holds
// player.mu.
func (c *Connection) attemptResume() bool {
	if c.player.destroyed {
		return false
	}
	if c.reconnectAttempts >= maxReconnectAttempt {
		return false
	}
	if c.flags.has(connAttemptingResume) || c.flags.has(connDisconnecting) {
		return false
	}
	if !c.credentialsValid() {
		if c.player.resuming && time.Since(c.lastResumeAsk) >= resumeRequestRate {
			c.lastResumeAsk = time.Now()
			c.player.requestVoiceState()
		}
		return false
	}

	c.flags |= connAttemptingResume
	generation := c.stateGeneration
	client := c.player.restClient()
	if client == nil {
		c.flags &^= connAttemptingResume
		return false
	}
	seq := c.sequence
	resume := true
	fields := rest.UpdatePlayerFields{
		Voice: &rest.VoiceUpdate{
			Token:     c.token,
			Endpoint:  c.endpoint,
			SessionID: c.sessionID,
			Resume:    &resume,
			Sequence:  &seq,
		},
	}

	guildID := c.player.guildID
	go func() {
		_, err := client.UpdatePlayer(guildID, fields, false)
		c.player.withLock(func() {
			c.flags &^= connAttemptingResume
			if c.player.conn != c || c.player.destroyed {
				return
			}
			if c.stateGeneration != generation {
				return
			}
			if err == nil {
				c.reconnectAttempts = 0
				c.consecutiveFailures = 0
				c.player.resuming = false
				c.sequence++
				c.player.emit(Event{Type: EventPlayerReconnected, GuildID: guildID, Player: c.player})
				return
			}
			c.player.reconcileUpdateError(err)
			c.consecutiveFailures++
			c.reconnectAttempts++
			if c.reconnectAttempts < maxReconnectAttempt && c.consecutiveFailures < maxConsecutiveFail {
				attempt := c.reconnectAttempts
				delay := backoff.ResumeDelay(attempt)
				time.AfterFunc(delay, func() {
					c.player.withLock(func() {
						if c.player.conn == c && !c.player.destroyed {
							c.attemptResume()
						}
					})
				})
				return
			}
			c.disconnect()
		})
	}()
	return true
}

// disconnect tears down the Connection and asks the Orchestrator to
// destroy the owning Player, best-effort. Caller holds player.mu.
func (c *Connection) disconnect() {
	if c.flags.has(connDisconnecting) {
		return
	}
	c.flags |= connDisconnecting
	c.cancelNullChannelTimer()
	if c.voiceFlushTimer != nil {
		c.voiceFlushTimer.Stop()
		c.voiceFlushTimer = nil
	}
	c.sessionID = ""
	c.token = ""
	c.endpoint = ""
	c.flags |= connVoiceDataStale
	c.flags &^= connConnected
	c.player.connected = false

	guildID := c.player.guildID
	orch := c.player.orch
	if orch != nil {
		go orch.DestroyPlayer(guildID)
	}
	c.flags &^= connDisconnecting
}

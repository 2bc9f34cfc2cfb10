package aqua

import "time"

// PlayerSnapshot is the in-memory capture shared by the voice-reconnection
// sequence, worker migration, and the durable-save path (via
// toPersisted below).
type PlayerSnapshot struct {
	GuildID             string
	TextChannelID       string
	VoiceChannelID      string
	Volume              int
	Paused              bool
	PositionAdjusted    time.Duration
	Current             *Track
	QueueSnapshot       []*Track
	Loop                LoopMode
	Shuffle             bool
	Deaf                bool
	Connected           bool
	PreviousIdentifiers []string
	IsAutoplayEnabled   bool
	AutoplaySeed        string
	NowPlayingMessageID string
}

// PersistedPlayer is the AquaPlayers.jsonl short-key record, one per saved
// player.
type PersistedPlayer struct {
	GuildID        string   `json:"g"`
	TextChannelID  string   `json:"t"`
	VoiceChannelID string   `json:"v"`
	TrackURI       string   `json:"u"`
	PositionMS     int64    `json:"p"`
	Timestamp      int64    `json:"ts"`
	QueueURIs      []string `json:"q"`
	Requester      string   `json:"r"`
	Volume         int      `json:"vol"`
	Paused         bool     `json:"pa"`
	Playing        bool     `json:"pl"`
	NowPlayingID   string   `json:"nw,omitempty"`
	Resuming       bool     `json:"resuming"`
}

// toPersisted converts a snapshot to the durable short-key record, capped
// to maxQueueSave next URIs.
func (s PlayerSnapshot) toPersisted(maxQueueSave int) PersistedPlayer {
	rec := PersistedPlayer{
		GuildID:        s.GuildID,
		TextChannelID:  s.TextChannelID,
		VoiceChannelID: s.VoiceChannelID,
		PositionMS:     s.PositionAdjusted.Milliseconds(),
		Timestamp:      time.Now().UnixMilli(),
		Volume:         s.Volume,
		Paused:         s.Paused,
		Playing:        s.Current != nil,
		NowPlayingID:   s.NowPlayingMessageID,
		Resuming:       true,
	}
	if s.Current != nil {
		rec.TrackURI = s.Current.URI
		rec.Requester = s.Current.Requester
	}
	n := maxQueueSave
	if n <= 0 || n > len(s.QueueSnapshot) {
		n = len(s.QueueSnapshot)
	}
	for _, t := range s.QueueSnapshot[:n] {
		if t.URI != "" {
			rec.QueueURIs = append(rec.QueueURIs, t.URI)
		}
	}
	return rec
}

// restoreOnto replays a captured snapshot onto a freshly created Player,
// restore rules: set volume, append queue, and if a
// current track was captured and preservePosition is enabled, play it and
// seek/pause once it starts.
func (s PlayerSnapshot) restoreOnto(p *Player, preservePosition bool) error {
	if err := p.SetVolume(s.Volume); err != nil {
		return err
	}
	p.withLock(func() {
		for _, t := range s.QueueSnapshot {
			p.queue.Enqueue(t.Clone())
		}
		p.loop = s.Loop
		p.isAutoplayEnabled = s.IsAutoplayEnabled
		p.autoplaySeed = s.AutoplaySeed
	})

	if s.Current == nil || !preservePosition {
		return nil
	}
	if err := p.Play(s.Current.Clone(), PlayOptions{}); err != nil {
		return err
	}
	pos := s.PositionAdjusted
	paused := s.Paused
	time.AfterFunc(seekSettleDelay, func() {
		if pos > 0 {
			_ = p.Seek(pos - p.Position())
		}
		if paused {
			time.AfterFunc(pauseSettleDelay-seekSettleDelay, func() {
				_ = p.Pause(true)
			})
		}
	})
	return nil
}

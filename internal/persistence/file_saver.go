// Package persistence implements aqua's Saver abstraction: FileSaver
// writes the AquaPlayers.jsonl lock-file protocol, RedisSaver is an
// alternate shared-store backend for a fleet of bot processes.
package persistence

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/keshon/aqua"
)

// PersistedPlayer is the AquaPlayers.jsonl short-key record.
// Field tags are the on-disk contract; do not rename without a migration.
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

type nodeSessionsHeader struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// FileSaver persists player state to a line-delimited JSON file using an
// atomic write/rename pattern: write to a temp file, fsync, rename over
// the target, and guard concurrent writers with a sibling lock file
// carrying the owning process id.
type FileSaver struct {
	mu           sync.Mutex
	path         string
	log          zerolog.Logger
	maxQueueSave int

	pending  []PersistedPlayer
	sessions map[string]string
}

// NewFileSaver builds a FileSaver writing to path (conventionally
// AquaPlayers.jsonl). The directory must already exist. maxQueueSave caps
// how many queued URIs are written per player, mirroring
// aqua.Options.MaxQueueSave.
func NewFileSaver(path string, maxQueueSave int, logger zerolog.Logger) *FileSaver {
	return &FileSaver{
		path:         path,
		maxQueueSave: maxQueueSave,
		log:          logger.With().Str("component", "persistence.file").Logger(),
		sessions:     make(map[string]string),
	}
}

func (f *FileSaver) lockPath() string { return f.path + ".lock" }

// acquireLock creates <path>.lock exclusively, failing if it already
// exists write protocol.
func (f *FileSaver) acquireLock() (*os.File, error) {
	lf, err := os.OpenFile(f.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aqua.ErrLockHeld, err)
	}
	fmt.Fprintf(lf, "%d\n", os.Getpid())
	return lf, nil
}

func (f *FileSaver) releaseLock(lf *os.File) {
	lf.Close()
	os.Remove(f.lockPath())
}

// SaveNodeSessions merges node name -> worker session id into the header
// and rewrites the file immediately: the header line and every pending
// player line are written together under one lock acquisition.
func (f *FileSaver) SaveNodeSessions(sessions map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, sid := range sessions {
		f.sessions[name] = sid
	}
	return f.flushLocked()
}

// SavePlayer adds one player record to the pending set (replacing any
// earlier record for the same guild) and flushes the
// whole file, since LDJSON has no in-place update: each save rewrites the
// header plus every player known so far.
func (f *FileSaver) SavePlayer(snapshot aqua.PlayerSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := toPersisted(snapshot, f.maxQueueSave)
	for i, p := range f.pending {
		if p.GuildID == rec.GuildID {
			f.pending[i] = rec
			return f.flushLocked()
		}
	}
	f.pending = append(f.pending, rec)
	return f.flushLocked()
}

// toPersisted converts an in-memory snapshot to the durable short-key
// record, capped to maxQueueSave next URIs.
func toPersisted(s aqua.PlayerSnapshot, maxQueueSave int) PersistedPlayer {
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

// fromPersisted rebuilds a PlayerSnapshot from a durable record. Tracks
// carry only a URI; aqua.Orchestrator resolves them against a Node before
// replay "tracks resolved per player" bound.
func fromPersisted(rec PersistedPlayer) aqua.PlayerSnapshot {
	snap := aqua.PlayerSnapshot{
		GuildID:             rec.GuildID,
		TextChannelID:       rec.TextChannelID,
		VoiceChannelID:      rec.VoiceChannelID,
		Volume:              rec.Volume,
		Paused:              rec.Paused,
		PositionAdjusted:    time.Duration(rec.PositionMS) * time.Millisecond,
		NowPlayingMessageID: rec.NowPlayingID,
	}
	if rec.TrackURI != "" {
		snap.Current = &aqua.Track{URI: rec.TrackURI, Requester: rec.Requester}
	}
	for _, uri := range rec.QueueURIs {
		snap.QueueSnapshot = append(snap.QueueSnapshot, &aqua.Track{URI: uri})
	}
	return snap
}

func (f *FileSaver) flushLocked() error {
	lf, err := f.acquireLock()
	if err != nil {
		return err
	}
	defer f.releaseLock(lf)

	tmp := f.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("persistence: open temp file: %w", err)
	}

	w := bufio.NewWriter(out)
	header, err := json.Marshal(nodeSessionsHeader{Type: "node_sessions", Data: f.sessions})
	if err != nil {
		out.Close()
		return err
	}
	if _, err := w.Write(header); err != nil {
		out.Close()
		return err
	}
	w.WriteByte('\n')
	for _, p := range f.pending {
		line, err := json.Marshal(p)
		if err != nil {
			out.Close()
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("persistence: flush temp file: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("persistence: fsync temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persistence: rename temp file: %w", err)
	}
	return nil
}

// LoadNodeSessions reads the header line of the persisted file, if any.
func (f *FileSaver) LoadNodeSessions() (map[string]string, error) {
	header, _, err := f.readAll()
	if err != nil {
		return nil, err
	}
	return header, nil
}

// LoadPlayers reads every player line of the persisted file.
func (f *FileSaver) LoadPlayers() ([]aqua.PlayerSnapshot, error) {
	_, players, err := f.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]aqua.PlayerSnapshot, 0, len(players))
	for _, p := range players {
		out = append(out, fromPersisted(p))
	}
	return out, nil
}

func (f *FileSaver) readAll() (map[string]string, []PersistedPlayer, error) {
	lf, err := f.acquireLock()
	if err != nil {
		return nil, nil, err
	}
	defer f.releaseLock(lf)

	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("persistence: open: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var header nodeSessionsHeader
	var players []PersistedPlayer
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &header); err == nil && header.Type == "node_sessions" {
				continue
			}
		}
		var p PersistedPlayer
		if err := json.Unmarshal(line, &p); err != nil {
			f.log.Warn().Err(err).Msg("skipping malformed persisted player line")
			continue
		}
		players = append(players, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("persistence: scan: %w", err)
	}
	if header.Data == nil {
		header.Data = map[string]string{}
	}
	return header.Data, players, nil
}

// Truncate clears the persisted file after a successful load. It also
// resets the in-memory pending set so a subsequent SavePlayer starts from
// an empty file.
func (f *FileSaver) Truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
	f.sessions = make(map[string]string)

	lf, err := f.acquireLock()
	if err != nil {
		return err
	}
	defer f.releaseLock(lf)
	if err := os.Truncate(f.path, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: truncate: %w", err)
	}
	return nil
}

// EnsureDir creates the parent directory of path if it doesn't exist, for
// callers constructing a FileSaver against a fresh data directory.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

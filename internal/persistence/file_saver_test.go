package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/aqua"
)

func newTestFileSaver(t *testing.T) *FileSaver {
	dir := t.TempDir()
	path := filepath.Join(dir, "AquaPlayers.jsonl")
	return NewFileSaver(path, 20, zerolog.Nop())
}

func TestFileSaverSaveAndLoadPlayerRoundTrip(t *testing.T) {
	f := newTestFileSaver(t)

	snap := aqua.PlayerSnapshot{
		GuildID:          "G1",
		TextChannelID:    "T1",
		VoiceChannelID:   "V1",
		Volume:           110,
		Paused:           true,
		PositionAdjusted: 30 * time.Second,
		Current:          &aqua.Track{URI: "https://example.com/a.mp3", Requester: "u1"},
		QueueSnapshot: []*aqua.Track{
			{URI: "https://example.com/b.mp3"},
			{URI: "https://example.com/c.mp3"},
		},
	}
	if err := f.SavePlayer(snap); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}

	loaded, err := f.LoadPlayers()
	if err != nil {
		t.Fatalf("LoadPlayers: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadPlayers() returned %d snapshots, want 1", len(loaded))
	}
	got := loaded[0]
	if got.GuildID != "G1" || got.Volume != 110 || !got.Paused {
		t.Fatalf("loaded snapshot mismatch: %+v", got)
	}
	if got.PositionAdjusted != 30*time.Second {
		t.Fatalf("PositionAdjusted = %v, want 30s", got.PositionAdjusted)
	}
	if got.Current == nil || got.Current.URI != "https://example.com/a.mp3" || got.Current.Requester != "u1" {
		t.Fatalf("Current track mismatch: %+v", got.Current)
	}
	if len(got.QueueSnapshot) != 2 {
		t.Fatalf("QueueSnapshot = %v, want 2 entries", got.QueueSnapshot)
	}
}

func TestFileSaverSavePlayerUpsertsByGuildID(t *testing.T) {
	f := newTestFileSaver(t)

	first := aqua.PlayerSnapshot{GuildID: "G1", Volume: 50}
	second := aqua.PlayerSnapshot{GuildID: "G1", Volume: 75}
	if err := f.SavePlayer(first); err != nil {
		t.Fatalf("SavePlayer(first): %v", err)
	}
	if err := f.SavePlayer(second); err != nil {
		t.Fatalf("SavePlayer(second): %v", err)
	}

	loaded, err := f.LoadPlayers()
	if err != nil {
		t.Fatalf("LoadPlayers: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadPlayers() = %d entries, want 1 (upsert, not append)", len(loaded))
	}
	if loaded[0].Volume != 75 {
		t.Fatalf("Volume = %d, want 75 (latest save wins)", loaded[0].Volume)
	}
}

func TestFileSaverNodeSessionsRoundTrip(t *testing.T) {
	f := newTestFileSaver(t)

	if err := f.SaveNodeSessions(map[string]string{"main": "sess-1"}); err != nil {
		t.Fatalf("SaveNodeSessions: %v", err)
	}
	sessions, err := f.LoadNodeSessions()
	if err != nil {
		t.Fatalf("LoadNodeSessions: %v", err)
	}
	if sessions["main"] != "sess-1" {
		t.Fatalf("LoadNodeSessions() = %v, want main=sess-1", sessions)
	}
}

func TestFileSaverLoadPlayersOnMissingFile(t *testing.T) {
	f := newTestFileSaver(t)
	loaded, err := f.LoadPlayers()
	if err != nil {
		t.Fatalf("LoadPlayers on missing file: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("LoadPlayers() = %v, want empty", loaded)
	}
}

func TestFileSaverTruncateClearsFile(t *testing.T) {
	f := newTestFileSaver(t)
	if err := f.SavePlayer(aqua.PlayerSnapshot{GuildID: "G1"}); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}
	if err := f.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	loaded, err := f.LoadPlayers()
	if err != nil {
		t.Fatalf("LoadPlayers after Truncate: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("LoadPlayers() after Truncate = %v, want empty", loaded)
	}
}

func TestFileSaverQueueCappedAtMaxQueueSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AquaPlayers.jsonl")
	f := NewFileSaver(path, 1, zerolog.Nop())

	snap := aqua.PlayerSnapshot{
		GuildID: "G1",
		QueueSnapshot: []*aqua.Track{
			{URI: "u1"}, {URI: "u2"}, {URI: "u3"},
		},
	}
	if err := f.SavePlayer(snap); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}
	loaded, err := f.LoadPlayers()
	if err != nil {
		t.Fatalf("LoadPlayers: %v", err)
	}
	if len(loaded[0].QueueSnapshot) != 1 {
		t.Fatalf("QueueSnapshot = %v, want capped at 1 entry", loaded[0].QueueSnapshot)
	}
}

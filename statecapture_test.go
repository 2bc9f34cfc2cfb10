package aqua

import (
	"testing"
	"time"
)

func TestPlayerSnapshotToPersisted(t *testing.T) {
	snap := PlayerSnapshot{
		GuildID:          "G1",
		TextChannelID:    "T1",
		VoiceChannelID:   "V1",
		Volume:           110,
		Paused:           true,
		PositionAdjusted: 30 * time.Second,
		Current:          &Track{URI: "https://example.com/a.mp3", Requester: "u1"},
		QueueSnapshot: []*Track{
			{URI: "https://example.com/b.mp3"},
			{URI: "https://example.com/c.mp3"},
			{URI: ""}, // no URI, must be skipped
		},
		NowPlayingMessageID: "msg1",
	}

	rec := snap.toPersisted(0)

	if rec.GuildID != "G1" || rec.TextChannelID != "T1" || rec.VoiceChannelID != "V1" {
		t.Fatalf("identity fields not carried over: %+v", rec)
	}
	if rec.Volume != 110 {
		t.Fatalf("Volume = %d, want 110", rec.Volume)
	}
	if !rec.Paused {
		t.Fatal("Paused = false, want true")
	}
	if rec.PositionMS != 30000 {
		t.Fatalf("PositionMS = %d, want 30000", rec.PositionMS)
	}
	if rec.TrackURI != "https://example.com/a.mp3" || rec.Requester != "u1" {
		t.Fatalf("current track not carried over: %+v", rec)
	}
	if !rec.Playing {
		t.Fatal("Playing = false, want true when Current is set")
	}
	if len(rec.QueueURIs) != 2 || rec.QueueURIs[0] != "https://example.com/b.mp3" || rec.QueueURIs[1] != "https://example.com/c.mp3" {
		t.Fatalf("QueueURIs = %v, want [b c] with empty URIs dropped", rec.QueueURIs)
	}
	if rec.NowPlayingID != "msg1" {
		t.Fatalf("NowPlayingID = %q, want msg1", rec.NowPlayingID)
	}
	if rec.Timestamp == 0 {
		t.Fatal("Timestamp was not stamped")
	}
}

func TestPlayerSnapshotToPersistedNoCurrent(t *testing.T) {
	snap := PlayerSnapshot{GuildID: "G2", Volume: 80}
	rec := snap.toPersisted(0)
	if rec.Playing {
		t.Fatal("Playing = true, want false when Current is nil")
	}
	if rec.TrackURI != "" || rec.Requester != "" {
		t.Fatalf("TrackURI/Requester should be empty when Current is nil: %+v", rec)
	}
}

func TestPlayerSnapshotToPersistedQueueCap(t *testing.T) {
	snap := PlayerSnapshot{
		GuildID: "G3",
		QueueSnapshot: []*Track{
			{URI: "u1"}, {URI: "u2"}, {URI: "u3"}, {URI: "u4"},
		},
	}
	rec := snap.toPersisted(2)
	if len(rec.QueueURIs) != 2 {
		t.Fatalf("QueueURIs = %v, want 2 entries when capped at 2", rec.QueueURIs)
	}
	if rec.QueueURIs[0] != "u1" || rec.QueueURIs[1] != "u2" {
		t.Fatalf("QueueURIs = %v, want [u1 u2]", rec.QueueURIs)
	}
}

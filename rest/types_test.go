package rest

import "testing"

func intPtr(i int) *int          { return &i }
func int64Ptr(i int64) *int64    { return &i }
func boolPtr(b bool) *bool       { return &b }
func strPtr(s string) *string    { return &s }

func TestUpdatePlayerFieldsMergeOverwritesSetFields(t *testing.T) {
	f := UpdatePlayerFields{Volume: intPtr(50)}
	f.Merge(UpdatePlayerFields{Volume: intPtr(80), Paused: boolPtr(true)})

	if f.Volume == nil || *f.Volume != 80 {
		t.Fatalf("Volume = %v, want 80", f.Volume)
	}
	if f.Paused == nil || *f.Paused != true {
		t.Fatalf("Paused = %v, want true", f.Paused)
	}
}

func TestUpdatePlayerFieldsMergeLeavesUnsetFieldsAlone(t *testing.T) {
	f := UpdatePlayerFields{
		Position: int64Ptr(1000),
		Track:    &TrackUpdate{Encoded: strPtr("E1")},
	}
	f.Merge(UpdatePlayerFields{Volume: intPtr(100)})

	if f.Position == nil || *f.Position != 1000 {
		t.Fatalf("Position = %v, want unchanged 1000", f.Position)
	}
	if f.Track == nil || f.Track.Encoded == nil || *f.Track.Encoded != "E1" {
		t.Fatalf("Track = %v, want unchanged", f.Track)
	}
	if f.Volume == nil || *f.Volume != 100 {
		t.Fatalf("Volume = %v, want 100", f.Volume)
	}
}

func TestUpdatePlayerFieldsMergeEmptySrcIsNoop(t *testing.T) {
	f := UpdatePlayerFields{Volume: intPtr(60), Paused: boolPtr(false)}
	f.Merge(UpdatePlayerFields{})

	if f.Volume == nil || *f.Volume != 60 {
		t.Fatalf("Volume = %v, want unchanged 60", f.Volume)
	}
	if f.Paused == nil || *f.Paused != false {
		t.Fatalf("Paused = %v, want unchanged false", f.Paused)
	}
}

func TestUpdatePlayerFieldsMergeVoice(t *testing.T) {
	f := UpdatePlayerFields{}
	voice := &VoiceUpdate{Token: "T1", Endpoint: "c-iad01-x", SessionID: "S1"}
	f.Merge(UpdatePlayerFields{Voice: voice})

	if f.Voice != voice {
		t.Fatalf("Voice = %v, want the merged pointer", f.Voice)
	}
}

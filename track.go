package aqua

import (
	"strings"
	"time"
)

// PlaylistInfo carries the playlist context a Track was resolved from, when
// the resolver attached one. It is opaque metadata: aqua never re-resolves
// or iterates a playlist on the caller's behalf.
type PlaylistInfo struct {
	Name          string
	SelectedTrack int
}

// Track is an immutable-ish metadata carrier for one playable item. Either
// Encoded or URI must be non-empty (InvariantTrackSource). Resolution
// (turning a bare URI into an Encoded payload) is an external collaborator's
// job; aqua only carries whatever the resolver gave it and re-requests
// resolution lazily when Encoded is needed but absent.
type Track struct {
	Identifier string
	Encoded    string // opaque base64 payload; may be empty pending resolution
	Title      string
	Author     string
	URI        string
	SourceName string
	Duration   time.Duration
	IsSeekable bool
	IsStream   bool
	Position   time.Duration // position at capture time, for resume/migration snapshots
	ArtworkURL string
	Playlist   *PlaylistInfo
	Requester  string // opaque "id:username" style handle, caller-defined
	Node       string // name of the Node this track was resolved/encoded on

	disposed bool
}

// Valid reports whether the track satisfies the data-model invariant that
// either Encoded or URI is non-empty.
func (t *Track) Valid() bool {
	if t == nil {
		return false
	}
	return t.Encoded != "" || t.URI != ""
}

// Clone returns a shallow copy safe to hand to another collection (queue,
// history, snapshot) without aliasing mutable fields across owners.
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	if t.Playlist != nil {
		p := *t.Playlist
		c.Playlist = &p
	}
	c.disposed = false
	return &c
}

// Dispose marks a track as released. It is invoked by Queue (Remove,
// Clear) when a track is permanently removed, and by the Player when its
// current track is stopped or destroyed. A disposed track is not reused;
// Dispose only sets a flag, since Track carries no external handle to
// release.
func (t *Track) Dispose() {
	if t == nil {
		return
	}
	t.disposed = true
}

// base64Alphabet is the permissive alphabet accepted for encoded track
// payloads: standard/URL-safe base64 with or without padding.
const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=_-"

// isValidBase64 validates a string against the permissive alphabet used for
// encoded track payloads: any string whose length mod 4 is not 1 and whose
// characters are all in [A-Za-z0-9+/=_-].
func isValidBase64(s string) bool {
	if s == "" {
		return false
	}
	if len(s)%4 == 1 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune(base64Alphabet, r)
	}) == -1
}

// Package rest is aqua's Lavalink v4 HTTP client: one instance per Node,
// carrying that Node's session id, compression, and HTTP/2 opt-in.
package rest

import (
	json "github.com/goccy/go-json"
)

// json is the package-qualified name every file in this package uses for
// wire (de)serialization; it resolves to goccy/go-json, the faster
// drop-in encoding/json replacement the rest of aqua standardizes on,
// rather than the standard library package of the same name.

// TrackInfo is the decoded metadata block of a Lavalink v4 track object.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	SourceName string `json:"sourceName"`
}

// WireTrack is a full Lavalink v4 track object as exchanged over REST and
// the worker WebSocket.
type WireTrack struct {
	Encoded    string          `json:"encoded"`
	Info       TrackInfo       `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
}

// LoadResult is the response of GET /loadtracks.
type LoadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

// PlaylistData is LoadResult.Data decoded when LoadType == "playlist".
type PlaylistData struct {
	Info struct {
		Name          string `json:"name"`
		SelectedTrack int    `json:"selectedTrack"`
	} `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	Tracks     []WireTrack     `json:"tracks"`
}

// LoadError is LoadResult.Data decoded when LoadType == "error".
type LoadError struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// VoiceState is the voice block of a remote player object.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// PlayerRuntimeState is the state block of a remote player object.
type PlayerRuntimeState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

// PlayerState is a remote player object, as returned by GET/PATCH
// /sessions/{sid}/players/{guild} and GET /sessions/{sid}/players.
type PlayerState struct {
	GuildID string             `json:"guildId"`
	Track   *WireTrack         `json:"track,omitempty"`
	Volume  int                `json:"volume"`
	Paused  bool               `json:"paused"`
	State   PlayerRuntimeState `json:"state"`
	Voice   VoiceState         `json:"voice"`
	Filters json.RawMessage    `json:"filters,omitempty"`
}

// TrackUpdate is the track block of a player PATCH body: Encoded set (even
// to "") replaces the playing track; a non-empty Identifier resolves
// server-side instead.
type TrackUpdate struct {
	Encoded    *string `json:"encoded,omitempty"`
	Identifier string  `json:"identifier,omitempty"`
}

// VoiceUpdate is the voice block of a player PATCH body. Resume/Sequence
// are only set on a resume attempt: they ask the worker to re-attach to an
// existing voice session rather than open a fresh one.
type VoiceUpdate struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
	Resume    *bool  `json:"resume,omitempty"`
	Sequence  *int64 `json:"sequence,omitempty"`
}

// UpdatePlayerFields is the mergeable PATCH body for
// /sessions/{sid}/players/{guild}, mirroring a batched-field update.
// Pointer/struct-pointer fields distinguish "not present" (nil) from
// "set to zero value".
type UpdatePlayerFields struct {
	Track    *TrackUpdate `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	EndTime  *int64       `json:"endTime,omitempty"`
	Volume   *int         `json:"volume,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Filters  json.RawMessage `json:"filters,omitempty"`
	Voice    *VoiceUpdate `json:"voice,omitempty"`
}

// Merge copies every non-nil field of src over the corresponding field of
// f, used by updateBatcher to accumulate successive batch() calls into one
// pending struct.
func (f *UpdatePlayerFields) Merge(src UpdatePlayerFields) {
	if src.Track != nil {
		f.Track = src.Track
	}
	if src.Position != nil {
		f.Position = src.Position
	}
	if src.EndTime != nil {
		f.EndTime = src.EndTime
	}
	if src.Volume != nil {
		f.Volume = src.Volume
	}
	if src.Paused != nil {
		f.Paused = src.Paused
	}
	if src.Filters != nil {
		f.Filters = src.Filters
	}
	if src.Voice != nil {
		f.Voice = src.Voice
	}
}

// MemoryStats is the memory block of a Node /stats frame or GET /stats body.
type MemoryStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// CPUStats is the cpu block of a Node /stats frame or GET /stats body.
type CPUStats struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// FrameStats is the optional frameStats block, absent when no player is
// actively streaming on the worker.
type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// Stats is a worker's load snapshot, from both the WS "stats" op and
// GET /stats.
type Stats struct {
	Players        int         `json:"players"`
	PlayingPlayers int         `json:"playingPlayers"`
	Uptime         int64       `json:"uptime"`
	Memory         MemoryStats `json:"memory"`
	CPU            CPUStats    `json:"cpu"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`
}

// Info is the GET /info capability descriptor.
type Info struct {
	Version struct {
		Semver string `json:"semver"`
		Major  int    `json:"major"`
		Minor  int    `json:"minor"`
		Patch  int    `json:"patch"`
	} `json:"version"`
	BuildTime      int64           `json:"buildTime"`
	Git            json.RawMessage `json:"git,omitempty"`
	JVM            string          `json:"jvm"`
	Lavaplayer     string          `json:"lavaplayer"`
	SourceManagers []string        `json:"sourceManagers"`
	Filters        []string        `json:"filters"`
	Plugins        []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"plugins"`
}

// LyricsResult is the decoded body of any of the four lyrics endpoints.
type LyricsResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Lines    []struct {
		Timestamp int64  `json:"timestamp"`
		Line      string `json:"line"`
	} `json:"lines,omitempty"`
}

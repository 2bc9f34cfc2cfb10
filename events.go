package aqua

// wireEventType is the literal string carried in a worker "event" op
// frame's "type" field. It is kept distinct from EventType because
// the wire vocabulary is fixed by the worker protocol while the Go-facing
// EventType vocabulary also covers synthetic events aqua itself produces
// (migrations, reconnects, node lifecycle) that never appear on the wire.
type wireEventType string

const (
	wireTrackStart        wireEventType = "TrackStartEvent"
	wireTrackEnd          wireEventType = "TrackEndEvent"
	wireTrackException    wireEventType = "TrackExceptionEvent"
	wireTrackStuck        wireEventType = "TrackStuckEvent"
	wireTrackChange       wireEventType = "TrackChangeEvent"
	wireWebSocketClosed   wireEventType = "WebSocketClosedEvent"
	wireLyricsPrefix                    = "Lyrics"
	wireLyricsFound       wireEventType = "LyricsFoundEvent"
	wireLyricsNotFound    wireEventType = "LyricsNotFoundEvent"
	wireLyricsLine        wireEventType = "LyricsLineEvent"
)

// EventType enumerates every event aqua can surface on its event bus: the
// worker-protocol's wire ops and events, plus the synthetic lifecycle
// events aqua itself emits (migrations, reconnects, node lifecycle).
type EventType string

const (
	// Track/player playback events, sourced from worker "event" op frames.
	EventTrackStart     EventType = "trackStart"
	EventTrackEnd       EventType = "trackEnd"
	EventTrackException EventType = "trackException"
	EventTrackStuck     EventType = "trackStuck"
	EventTrackChange    EventType = "trackChange"
	EventSocketClosed   EventType = "socketClosed"

	// Lyrics events, sourced from worker ops starting with "Lyrics".
	EventLyricsFound    EventType = "lyricsFound"
	EventLyricsNotFound EventType = "lyricsNotFound"
	EventLyricsLine     EventType = "lyricsLine"

	// Player lifecycle, synthesized by aqua.
	EventPlayerUpdate       EventType = "playerUpdate"
	EventPlayerMove         EventType = "playerMove"
	EventQueueEnd           EventType = "queueEnd"
	EventDestroy            EventType = "destroy"
	EventPlayerReconnected  EventType = "playerReconnected"
	EventReconnectionFailed EventType = "reconnectionFailed"
	EventAutoplayFailed     EventType = "autoplayFailed"
	EventPlayerMigrated     EventType = "playerMigrated"

	// Node lifecycle, synthesized by aqua.
	EventNodeConnect          EventType = "nodeConnect"
	EventNodeReady            EventType = "nodeReady"
	EventNodeDisconnect       EventType = "nodeDisconnect"
	EventNodeError            EventType = "nodeError"
	EventNodeFailover         EventType = "nodeFailover"
	EventNodeFailoverComplete EventType = "nodeFailoverComplete"

	// Diagnostics.
	EventError EventType = "error"
	EventDebug EventType = "debug"
	EventRaw   EventType = "raw" // unknown event type or lyrics frame forwarded verbatim
)

// Event is one entry on the Orchestrator's event bus. Not every field is
// populated for every EventType; callers should switch on Type first.
type Event struct {
	Type    EventType
	GuildID string
	Player  *Player
	Track   *Track
	Node    *Node
	Payload any
	Err     error
	Message string

	// OldPlayer/NewPlayer/TargetNode are set for EventPlayerMigrated.
	OldPlayer  *Player
	NewPlayer  *Player
	TargetNode *Node

	// Failed/Succeeded are set for EventNodeFailoverComplete.
	Succeeded []string
	Failed    []string
}

// eventBusCapacity bounds the Orchestrator's event channel; emitters drop
// the event rather than block, and nothing is logged.
const eventBusCapacity = 256

// eventBus fans events out to a single buffered channel. It is safe to emit
// from any goroutine; subscribers read from Events().
type eventBus struct {
	ch chan Event
}

func newEventBus() *eventBus {
	return &eventBus{ch: make(chan Event, eventBusCapacity)}
}

// emit delivers ev without blocking; if the channel is full the event is
// dropped (never silently retried — callers needing guaranteed delivery
// should drain Events() promptly).
func (b *eventBus) emit(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}

// Events returns the read side of the bus. Call once per consumer; fan-out
// to multiple independent consumers is the caller's responsibility.
func (b *eventBus) Events() <-chan Event {
	return b.ch
}

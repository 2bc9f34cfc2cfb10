// Package aqua is a client library that federates a bot process to one or
// more Lavalink-compatible audio worker nodes and bridges them to per-guild
// voice sessions delivered over a host chat platform's gateway.
//
// The package owns the distributed player runtime: per-guild state machines
// that hold a WebSocket control plane to each worker, reconcile voice
// credentials with the gateway, issue idempotent REST updates, and migrate
// or rebuild players across workers on failure. It does not decode or mix
// audio, does not provide a UI, and does not define any bot command surface
// — those live in the calling application.
//
// A process constructs one *Orchestrator, feeds it gateway voice packets via
// UpdateVoiceState, and drives playback through the *Player it returns from
// CreateConnection. Everything else — reconnects, migrations, failover,
// save/restore — happens in the background.
package aqua

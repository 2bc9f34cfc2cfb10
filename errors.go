package aqua

import "errors"

// Sentinel errors returned by public operations. Callers should compare
// with errors.Is rather than string matching.
var (
	ErrDestroyed         = errors.New("aqua: player is destroyed")
	ErrNotConnected      = errors.New("aqua: player is not connected to a voice channel")
	ErrNoCurrentTrack    = errors.New("aqua: no track is currently loaded")
	ErrQueueEmpty        = errors.New("aqua: queue is empty")
	ErrInvalidLoopMode   = errors.New("aqua: invalid loop mode")
	ErrInvalidVolume     = errors.New("aqua: invalid volume")
	ErrNoNode            = errors.New("aqua: no connected node available")
	ErrNodeDestroyed     = errors.New("aqua: node is destroyed")
	ErrPlayerExists      = errors.New("aqua: player already exists for guild")
	ErrPlayerNotFound    = errors.New("aqua: no player for guild")
	ErrInvalidBase64     = errors.New("aqua: invalid base64 track payload")
	ErrMissingTrackInput = errors.New("aqua: track has neither encoded payload nor uri")
	ErrLockHeld          = errors.New("aqua: persistence lock file already held")
	ErrNoSaver           = errors.New("aqua: no saver configured")
	ErrRegionUnknown     = errors.New("aqua: could not extract a region code from endpoint")
)

package aqua

import (
	"sync"
	"time"

	"github.com/keshon/aqua/rest"
)

// updateBatcher coalesces PATCH /sessions/{sid}/players/{guild} field
// changes for one Player. A track/paused/position change (or
// an explicit immediate flag) flushes right away; anything else rides the
// next cooperative tick. At most one flush is ever in flight; a flush that
// arrives while one is pending accumulates into the next pending struct
// rather than racing it.
type updateBatcher struct {
	mu      sync.Mutex
	client  *rest.Client
	guildID string

	pending   rest.UpdatePlayerFields
	dirty     bool
	noReplace bool
	timer     *time.Timer
	inFlight  bool
	queuedRun bool

	onError func(err error)
}

// updateBatcherTick is the delay before the next cooperative flush of a
// non-immediate batch. There is no real cooperative scheduler in a
// goroutine-based runtime, so a minimal timer stands in for it — long
// enough to coalesce a burst of field writes issued from the same call
// stack, short enough not to be perceptible as latency.
const updateBatcherTick = time.Millisecond

func newUpdateBatcher(client *rest.Client, guildID string, onError func(error)) *updateBatcher {
	return &updateBatcher{client: client, guildID: guildID, onError: onError}
}

// batch merges fields into the pending update. immediate, or the presence
// of Track, Paused, or Position, forces a flush now instead of on the next
// tick.
func (b *updateBatcher) batch(fields rest.UpdatePlayerFields, noReplace bool, immediate bool) {
	b.mu.Lock()
	b.pending.Merge(fields)
	b.noReplace = noReplace
	b.dirty = true
	urgent := immediate || fields.Track != nil || fields.Paused != nil || fields.Position != nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if urgent {
		b.mu.Unlock()
		b.runOrQueue()
		return
	}
	b.timer = time.AfterFunc(updateBatcherTick, b.runOrQueue)
	b.mu.Unlock()
}

// runOrQueue starts a flush if none is in flight, or marks that one more
// run is owed once the current flush completes.
func (b *updateBatcher) runOrQueue() {
	b.mu.Lock()
	if b.inFlight {
		b.queuedRun = true
		b.mu.Unlock()
		return
	}
	if !b.dirty {
		b.mu.Unlock()
		return
	}
	fields := b.pending
	noReplace := b.noReplace
	b.pending = rest.UpdatePlayerFields{}
	b.dirty = false
	b.inFlight = true
	b.mu.Unlock()

	go b.flush(fields, noReplace)
}

func (b *updateBatcher) flush(fields rest.UpdatePlayerFields, noReplace bool) {
	_, err := b.client.UpdatePlayer(b.guildID, fields, noReplace)
	if err != nil && b.onError != nil {
		b.onError(err)
	}

	b.mu.Lock()
	b.inFlight = false
	again := b.queuedRun
	b.queuedRun = false
	b.mu.Unlock()

	if again {
		b.runOrQueue()
	}
}

// stop cancels any pending scheduled flush. An in-flight flush is allowed
// to complete; its error, if any, still reaches onError.
func (b *updateBatcher) stop() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.dirty = false
	b.mu.Unlock()
}

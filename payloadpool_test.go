package aqua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadPoolAcquireFreshWhenEmpty(t *testing.T) {
	p := newPayloadPool()
	v := p.acquire()
	require.NotNil(t, v)
	assert.Equal(t, voicePayload{}, *v)
}

func TestPayloadPoolReleaseThenAcquireReuses(t *testing.T) {
	p := newPayloadPool()
	v := p.acquire()
	v.SessionID = "sess1"
	v.Token = "tok1"
	v.Sequence = 7

	p.release(v)
	require.Len(t, p.free, 1)

	got := p.acquire()
	assert.Same(t, v, got)
	assert.Equal(t, voicePayload{}, *got)
}

func TestPayloadPoolReleaseNilIsNoop(t *testing.T) {
	p := newPayloadPool()
	p.release(nil)
	assert.Empty(t, p.free)
}

func TestPayloadPoolReleaseDropsBeyondCapacity(t *testing.T) {
	p := newPayloadPool()
	for i := 0; i < payloadPoolSize+5; i++ {
		p.release(&voicePayload{SessionID: "x"})
	}
	assert.Len(t, p.free, payloadPoolSize)
}

func TestVoicePayloadReset(t *testing.T) {
	v := &voicePayload{SessionID: "s", Token: "t", Endpoint: "e", Resume: true, Sequence: 3}
	v.reset()
	assert.Equal(t, voicePayload{}, *v)
}

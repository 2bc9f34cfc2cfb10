// Package backoff implements the deterministic reconnect/backoff formulas
// used by aqua's Node and Connection state machines. Unlike the adaptive,
// error-driven retry in pkg/retrylimit (used by the REST client for
// ordinary transient-network retries), these are fixed formulas over an
// attempt counter — the worker protocol and gateway reconnection schedules
// are contractual, not tunable at runtime.
package backoff

import (
	"math/rand"
	"time"
)

// Connection resume backoff ( attemptResume): exponential, capped.
const (
	ResumeBaseDelay = 1500 * time.Millisecond
	ResumeMaxDelay  = 60 * time.Second
)

// ResumeDelay returns the delay before resume attempt n (1-indexed):
// min(ResumeBaseDelay * 2^(n-1), ResumeMaxDelay).
func ResumeDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := ResumeBaseDelay
	for i := 1; i < attempt && d < ResumeMaxDelay; i++ {
		d *= 2
		if d > ResumeMaxDelay {
			d = ResumeMaxDelay
			break
		}
	}
	if d > ResumeMaxDelay {
		d = ResumeMaxDelay
	}
	return d
}

// Player reconnection-sequence backoff: linear, capped.
const (
	ReconnectBaseDelay = 1500 * time.Millisecond
	ReconnectMaxDelay  = 5 * time.Second
)

// ReconnectDelay returns the delay before reconnection-sequence attempt n
// (1-indexed): min(ReconnectBaseDelay * n, ReconnectMaxDelay). Linear, not
// exponential — a separate schedule from the ResumeDelay formula used by
// the Connection's own internal resume retries.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * ReconnectBaseDelay
	if d > ReconnectMaxDelay {
		d = ReconnectMaxDelay
	}
	return d
}

// Node reconnect backoff: exponential with multiplier, jittered,
// capped — or a fixed delay when infinite reconnects are enabled.
const (
	NodeBackoffMultiplier = 1.5
	NodeJitterMax         = 2 * time.Second
	NodeMaxBackoff        = 60 * time.Second
	NodeInfiniteBackoff   = 10 * time.Second
)

// NodeDelay returns the delay before Node reconnect attempt n (1-indexed),
// given the node's configured base timeout. When infinite is true the
// schedule is a fixed NodeInfiniteBackoff regardless of attempt.
func NodeDelay(attempt int, base time.Duration, infinite bool) time.Duration {
	if infinite {
		return NodeInfiniteBackoff
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt
	if exp > 10 {
		exp = 10
	}
	scaled := float64(base)
	for i := 0; i < exp; i++ {
		scaled *= NodeBackoffMultiplier
	}
	d := time.Duration(scaled)

	jitterCap := NodeJitterMax
	if cap := time.Duration(float64(d) * 0.2); cap < jitterCap {
		jitterCap = cap
	}
	var jitter time.Duration
	if jitterCap > 0 {
		jitter = time.Duration(rand.Int63n(int64(jitterCap) + 1))
	}

	d += jitter
	if d > NodeMaxBackoff {
		d = NodeMaxBackoff
	}
	return d
}

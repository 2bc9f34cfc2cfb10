package aqua

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keshon/aqua/rest"
)

func newTestRestClient(t *testing.T, handler http.HandlerFunc) (*rest.Client, *httptest.Server) {
	return newTestRestClientWithTimeout(t, handler, 0)
}

func newTestRestClientWithTimeout(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*rest.Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse httptest URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	client := rest.NewClient(rest.Config{
		Host:    u.Hostname(),
		Port:    port,
		Timeout: timeout,
	})
	return client, srv
}

func TestUpdateBatcherImmediateOnTrackChange(t *testing.T) {
	var calls int32
	client, srv := newTestRestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"guildId":"G1"}`))
	})
	defer srv.Close()

	b := newUpdateBatcher(client, "G1", func(error) {})

	encoded := "E1"
	b.batch(rest.UpdatePlayerFields{Track: &rest.TrackUpdate{Encoded: &encoded}}, false, false)

	waitForCalls(t, &calls, 1)
}

func TestUpdateBatcherCoalescesNonUrgentFields(t *testing.T) {
	var calls int32
	client, srv := newTestRestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"guildId":"G1"}`))
	})
	defer srv.Close()

	b := newUpdateBatcher(client, "G1", func(error) {})
	vol1 := 50
	vol2 := 60
	b.batch(rest.UpdatePlayerFields{Volume: &vol1}, false, false)
	b.batch(rest.UpdatePlayerFields{Volume: &vol2}, false, false)

	waitForCalls(t, &calls, 1)
	// the two non-urgent batches must have coalesced into a single flush
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want exactly 1 after coalescing", got)
	}
}

func TestUpdateBatcherPropagatesErrorToOnError(t *testing.T) {
	// A short client timeout bounds the rest package's own retry loop
	// (5xx responses are retried) so this test doesn't wait out its full
	// 100-attempt retry schedule.
	client, srv := newTestRestClientWithTimeout(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, 200*time.Millisecond)
	defer srv.Close()

	var gotErr atomic.Value
	b := newUpdateBatcher(client, "G1", func(err error) {
		gotErr.Store(err)
	})
	paused := true
	b.batch(rest.UpdatePlayerFields{Paused: &paused}, false, false)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if gotErr.Load() != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("onError was never called after a failing flush")
}

func TestUpdateBatcherStopCancelsScheduledFlush(t *testing.T) {
	var calls int32
	client, srv := newTestRestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"guildId":"G1"}`))
	})
	defer srv.Close()

	b := newUpdateBatcher(client, "G1", func(error) {})
	vol := 50
	b.batch(rest.UpdatePlayerFields{Volume: &vol}, false, false) // non-urgent, scheduled for next tick
	b.stop()

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("calls = %d, want 0 after stop cancelled the scheduled flush", got)
	}
}

func waitForCalls(t *testing.T, counter *int32, want int32) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(counter) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("calls = %d, want at least %d within deadline", atomic.LoadInt32(counter), want)
}

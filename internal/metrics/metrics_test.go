package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keshon/aqua"
)

func newTestOrchestrator() *aqua.Orchestrator {
	opts := aqua.NewOptions("client1", func(aqua.VoiceJoinPacket) error { return nil })
	return aqua.NewOrchestrator(opts, []aqua.NodeConfig{{Name: "n1", Host: "127.0.0.1", Port: 2333}}, "aqua-test")
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNewCollectorRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	orch := newTestOrchestrator()
	c := NewCollector(orch, reg)
	// A vector family only shows up in Gather once it has a child, so give
	// each of the six vectors one label value before counting.
	c.nodeConnected.WithLabelValues("n1")
	c.nodeReconnects.WithLabelValues("n1")
	c.nodeRestCalls.WithLabelValues("n1")
	c.nodePlayers.WithLabelValues("n1")
	c.nodeLoadScore.WithLabelValues("n1")
	c.failoverPlayers.WithLabelValues("succeeded")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 9 {
		t.Fatalf("Gather() returned %d metric families, want 9", len(families))
	}
}

func TestCollectorObserveEventNodeFailover(t *testing.T) {
	reg := prometheus.NewRegistry()
	orch := newTestOrchestrator()
	c := NewCollector(orch, reg)

	c.observeEvent(aqua.Event{Type: aqua.EventNodeFailover})
	if got := counterValue(t, c.failovers); got != 1 {
		t.Fatalf("failovers counter = %v, want 1", got)
	}
}

func TestCollectorObserveEventNodeFailoverComplete(t *testing.T) {
	reg := prometheus.NewRegistry()
	orch := newTestOrchestrator()
	c := NewCollector(orch, reg)

	c.observeEvent(aqua.Event{
		Type:      aqua.EventNodeFailoverComplete,
		Succeeded: []string{"G1", "G2"},
		Failed:    []string{"G3"},
	})
	if got := counterValue(t, c.failoverPlayers.WithLabelValues("ok")); got != 2 {
		t.Fatalf("failoverPlayers[ok] = %v, want 2", got)
	}
	if got := counterValue(t, c.failoverPlayers.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failoverPlayers[failed] = %v, want 1", got)
	}
}

func TestCollectorObserveEventError(t *testing.T) {
	reg := prometheus.NewRegistry()
	orch := newTestOrchestrator()
	c := NewCollector(orch, reg)

	c.observeEvent(aqua.Event{Type: aqua.EventError})
	c.observeEvent(aqua.Event{Type: aqua.EventError})
	if got := counterValue(t, c.errors); got != 2 {
		t.Fatalf("errors counter = %v, want 2", got)
	}
}

func TestCollectorPollReflectsPlayerCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	orch := newTestOrchestrator()
	c := NewCollector(orch, reg)

	c.poll()
	if got := gaugeValue(t, c.playerCount); got != 0 {
		t.Fatalf("playerCount = %v, want 0 with no players registered", got)
	}
}

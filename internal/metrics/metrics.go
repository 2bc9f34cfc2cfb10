// Package metrics exposes aqua's Node/Orchestrator state as Prometheus
// collectors, carrying ambient observability independent of any feature
// scope. It observes the library from the outside, through Orchestrator's
// exported event stream and Node accessors, so the core aqua package
// stays free of any Prometheus import.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keshon/aqua"
)

// Collector wires an Orchestrator's event stream and periodic Node polls
// into a set of Prometheus metrics.
type Collector struct {
	orch *aqua.Orchestrator

	nodeConnected   *prometheus.GaugeVec
	nodeReconnects  *prometheus.CounterVec
	nodeRestCalls   *prometheus.GaugeVec
	nodePlayers     *prometheus.GaugeVec
	nodeLoadScore   *prometheus.GaugeVec
	playerCount     prometheus.Gauge
	failovers       prometheus.Counter
	failoverPlayers *prometheus.CounterVec
	errors          prometheus.Counter
}

// NewCollector builds a Collector and registers its metrics against reg.
// Pass prometheus.DefaultRegisterer for the global registry.
func NewCollector(orch *aqua.Orchestrator, reg prometheus.Registerer) *Collector {
	c := &Collector{
		orch: orch,
		nodeConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aqua", Subsystem: "node", Name: "connected",
			Help: "1 if the node's control-plane WebSocket is connected.",
		}, []string{"node"}),
		nodeReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqua", Subsystem: "node", Name: "reconnects_total",
			Help: "Total reconnect attempts per node.",
		}, []string{"node"}),
		nodeRestCalls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aqua", Subsystem: "node", Name: "rest_calls_total",
			Help: "Cumulative REST calls issued to this node.",
		}, []string{"node"}),
		nodePlayers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aqua", Subsystem: "node", Name: "players",
			Help: "Players currently bound to this node.",
		}, []string{"node"}),
		nodeLoadScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aqua", Subsystem: "node", Name: "load_score",
			Help: "systemLoad/cores fraction reported by the node's last stats frame.",
		}, []string{"node"}),
		playerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aqua", Name: "players_total",
			Help: "Players currently registered on the orchestrator.",
		}),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqua", Name: "node_failovers_total",
			Help: "Worker-failover runs triggered by a lost node.",
		}),
		failoverPlayers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqua", Name: "failover_players_total",
			Help: "Players migrated by the worker-failover engine, by outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqua", Name: "errors_total",
			Help: "Error events emitted on the orchestrator's event bus.",
		}),
	}
	reg.MustRegister(
		c.nodeConnected, c.nodeReconnects, c.nodeRestCalls, c.nodePlayers,
		c.nodeLoadScore, c.playerCount, c.failovers, c.failoverPlayers, c.errors,
	)
	return c
}

// Run consumes the orchestrator's event stream and polls Node state on
// pollInterval, until ctx is cancelled. Intended to run in its own
// goroutine for the lifetime of the Orchestrator.
func (c *Collector) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	events := c.orch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.observeEvent(ev)
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Collector) observeEvent(ev aqua.Event) {
	switch ev.Type {
	case aqua.EventNodeConnect:
		if ev.Node != nil {
			c.nodeConnected.WithLabelValues(ev.Node.Name()).Set(1)
		}
	case aqua.EventNodeDisconnect:
		if ev.Node != nil {
			c.nodeConnected.WithLabelValues(ev.Node.Name()).Set(0)
		}
	case aqua.EventNodeError:
		if ev.Node != nil {
			c.nodeReconnects.WithLabelValues(ev.Node.Name()).Inc()
		}
	case aqua.EventNodeFailover:
		c.failovers.Inc()
	case aqua.EventNodeFailoverComplete:
		c.failoverPlayers.WithLabelValues("ok").Add(float64(len(ev.Succeeded)))
		c.failoverPlayers.WithLabelValues("failed").Add(float64(len(ev.Failed)))
	case aqua.EventError:
		c.errors.Inc()
	}
}

func (c *Collector) poll() {
	nodes := c.orch.Nodes()
	for _, n := range nodes {
		connected := 0.0
		if n.Connected() {
			connected = 1.0
		}
		c.nodeConnected.WithLabelValues(n.Name()).Set(connected)
		c.nodeRestCalls.WithLabelValues(n.Name()).Set(float64(n.RestCalls()))
		stats := n.Stats()
		c.nodePlayers.WithLabelValues(n.Name()).Set(float64(stats.Players))
		if stats.CPU.Cores > 0 {
			c.nodeLoadScore.WithLabelValues(n.Name()).Set(stats.CPU.SystemLoad / float64(stats.CPU.Cores))
		}
	}
	c.playerCount.Set(float64(len(c.orch.Players())))
}

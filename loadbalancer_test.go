package aqua

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/keshon/aqua/rest"
)

// testNode builds a Node wired to a local httptest worker, so RestCalls()
// can be driven up by issuing real (loopback) requests rather than poking
// at rest.Client's private counter from outside its package.
func testNode(t *testing.T, srv *httptest.Server, name string, regions ...string) *Node {
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse httptest URL: %v", err)
	}
	host := u.Hostname()
	port, _ := strconv.Atoi(u.Port())

	opts := NewOptions("client1", func(VoiceJoinPacket) error { return nil })
	orch := NewOrchestrator(opts, []NodeConfig{{Name: name, Host: host, Port: port, Regions: regions}}, "aqua-test")
	n := orch.nodes[name]
	if n == nil {
		t.Fatalf("orchestrator did not build a node named %q", name)
	}
	return n
}

func statsServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"players":0,"playingPlayers":0,"uptime":0,"memory":{},"cpu":{}}`))
	}))
}

func TestLoadBalancerLeastRest(t *testing.T) {
	srv := statsServer()
	defer srv.Close()

	lb := newLoadBalancer(LoadBalancerLeastRest)
	busy := testNode(t, srv, "busy")
	quiet := testNode(t, srv, "quiet")

	for i := 0; i < 5; i++ {
		if _, err := busy.restClient.FetchStats(); err != nil {
			t.Fatalf("FetchStats: %v", err)
		}
	}

	ranked := lb.rank([]*Node{busy, quiet})
	if ranked[0] != quiet {
		t.Fatalf("rank()[0] = %v, want the node with fewer REST calls", ranked[0])
	}
}

func TestLoadBalancerLeastLoadScoring(t *testing.T) {
	srv := statsServer()
	defer srv.Close()

	lb := newLoadBalancer(LoadBalancerLeastLoad)
	light := testNode(t, srv, "light")
	heavy := testNode(t, srv, "heavy")

	light.mu.Lock()
	light.stats = rest.Stats{
		PlayingPlayers: 1,
		CPU:            rest.CPUStats{Cores: 4, SystemLoad: 0.1},
		Memory:         rest.MemoryStats{Used: 100, Reservable: 1000},
	}
	light.mu.Unlock()

	heavy.mu.Lock()
	heavy.stats = rest.Stats{
		PlayingPlayers: 20,
		CPU:            rest.CPUStats{Cores: 4, SystemLoad: 0.9},
		Memory:         rest.MemoryStats{Used: 900, Reservable: 1000},
	}
	heavy.mu.Unlock()

	ranked := lb.rank([]*Node{heavy, light})
	if ranked[0] != light {
		t.Fatalf("rank()[0] = %v, want the less-loaded node", ranked[0])
	}
}

func TestLoadBalancerRankCachesUntilInvalidated(t *testing.T) {
	srv := statsServer()
	defer srv.Close()

	lb := newLoadBalancer(LoadBalancerLeastRest)
	a := testNode(t, srv, "a")
	b := testNode(t, srv, "b")

	first := lb.rank([]*Node{a, b})
	if _, err := b.restClient.FetchStats(); err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	second := lb.rank([]*Node{a, b})
	if second[0] != first[0] {
		t.Fatalf("rank() changed order before the cache TTL elapsed: %v vs %v", first, second)
	}

	lb.invalidate()
	third := lb.rank([]*Node{a, b})
	if third[0] != a {
		t.Fatalf("rank() after invalidate = %v, want the now-quieter node a", third[0])
	}
}

func TestLoadBalancerChooseEmpty(t *testing.T) {
	lb := newLoadBalancer(LoadBalancerLeastLoad)
	if got := lb.choose(nil); got != nil {
		t.Fatalf("choose(nil) = %v, want nil", got)
	}
}

func TestLoadBalancerFindBestNodeForRegion(t *testing.T) {
	srv := statsServer()
	defer srv.Close()

	lb := newLoadBalancer(LoadBalancerLeastLoad)
	iad := testNode(t, srv, "iad-node", "iad")
	gru := testNode(t, srv, "gru-node", "gru")

	if got := lb.findBestNodeForRegion([]*Node{iad, gru}, "gru"); got != gru {
		t.Fatalf("findBestNodeForRegion(gru) = %v, want gru-node", got)
	}
	if got := lb.findBestNodeForRegion([]*Node{iad, gru}, "syd"); got != nil {
		t.Fatalf("findBestNodeForRegion(syd) = %v, want nil (no declared match)", got)
	}
}

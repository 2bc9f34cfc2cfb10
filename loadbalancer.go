package aqua

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Tunables.
const (
	nodeCacheValidTime = 12 * time.Second
	nodeScoreValidTime = 5 * time.Second
)

type nodeScore struct {
	value    float64
	cachedAt time.Time
}

// loadBalancer ranks connected nodes per the Orchestrator's configured
// policy, caching the sorted list for nodeCacheValidTime and memoizing
// individual composite scores for nodeScoreValidTime.
type loadBalancer struct {
	mu sync.Mutex

	policy LoadBalancerPolicy

	cachedAt time.Time
	cached   []*Node

	scores map[*Node]nodeScore
}

func newLoadBalancer(policy LoadBalancerPolicy) *loadBalancer {
	return &loadBalancer{policy: policy, scores: make(map[*Node]nodeScore)}
}

// rank returns candidates sorted best-first per policy, using the node
// cache when still valid.
func (lb *loadBalancer) rank(candidates []*Node) []*Node {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.cached != nil && time.Since(lb.cachedAt) < nodeCacheValidTime && sameNodeSet(lb.cached, candidates) {
		return lb.cached
	}

	ranked := append([]*Node(nil), candidates...)
	switch lb.policy {
	case LoadBalancerLeastRest:
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].RestCalls() < ranked[j].RestCalls()
		})
	case LoadBalancerRandom:
		rand.Shuffle(len(ranked), func(i, j int) { ranked[i], ranked[j] = ranked[j], ranked[i] })
	default: // leastLoad
		sort.SliceStable(ranked, func(i, j int) bool {
			return lb.scoreFor(ranked[i]) < lb.scoreFor(ranked[j])
		})
	}

	lb.cached = ranked
	lb.cachedAt = time.Now()
	return ranked
}

// scoreFor computes (or returns a memoized) composite load score for n, per
// : 100·systemLoad/cores + 0.75·playingPlayers +
// 40·mem.used/mem.reservable + 0.001·rest.calls.
func (lb *loadBalancer) scoreFor(n *Node) float64 {
	if s, ok := lb.scores[n]; ok && time.Since(s.cachedAt) < nodeScoreValidTime {
		return s.value
	}
	stats := n.Stats()
	var v float64
	if stats.CPU.Cores > 0 {
		v += 100 * stats.CPU.SystemLoad / float64(stats.CPU.Cores)
	}
	v += 0.75 * float64(stats.PlayingPlayers)
	if stats.Memory.Reservable > 0 {
		v += 40 * float64(stats.Memory.Used) / float64(stats.Memory.Reservable)
	}
	v += 0.001 * float64(n.RestCalls())
	lb.scores[n] = nodeScore{value: v, cachedAt: time.Now()}
	return v
}

// choose returns the best candidate, or nil if candidates is empty.
func (lb *loadBalancer) choose(candidates []*Node) *Node {
	ranked := lb.rank(candidates)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}

func (lb *loadBalancer) invalidate() {
	lb.mu.Lock()
	lb.cached = nil
	lb.mu.Unlock()
}

func sameNodeSet(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[*Node]bool, len(a))
	for _, n := range a {
		seen[n] = true
	}
	for _, n := range b {
		if !seen[n] {
			return false
		}
	}
	return true
}

// fetchRegion returns connected candidates whose declared regions include
// r, sorted ascending by load.
func (lb *loadBalancer) fetchRegion(candidates []*Node, r string) []*Node {
	var matches []*Node
	for _, n := range candidates {
		for _, region := range n.Regions() {
			if region == r {
				matches = append(matches, n)
				break
			}
		}
	}
	return lb.rank(matches)
}

// findBestNodeForRegion picks the least-busy region match, or nil if none
// declare r.
func (lb *loadBalancer) findBestNodeForRegion(candidates []*Node, r string) *Node {
	matches := lb.fetchRegion(candidates, r)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

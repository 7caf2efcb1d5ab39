package core

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
)

// Topology tracks the parent set reported by every node together with the time
// it was last confirmed. Both maps always hold the same keys.
type Topology struct {
	mu      sync.Mutex
	parents map[state.Addr][]state.Addr
	seen    map[state.Addr]time.Time
	timeout time.Duration
	clock   clock.Clock
	log     *slog.Logger
}

func NewTopology(clk clock.Clock, timeout time.Duration, log *slog.Logger) *Topology {
	return &Topology{
		parents: make(map[state.Addr][]state.Addr),
		seen:    make(map[state.Addr]time.Time),
		timeout: timeout,
		clock:   clk,
		log:     log,
	}
}

// UpdateParents records the parent set of node and reports whether the
// topology changed, either because the parent set differs from the stored one
// or because stale nodes were evicted during this call.
func (t *Topology) UpdateParents(node state.Addr, parents []state.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	old, ok := t.parents[node]
	changed := !ok || !slices.Equal(old, parents)
	if changed {
		t.parents[node] = slices.Clone(parents)
		t.log.Debug("parents changed", "node", node, "parents", parents)
	}
	t.seen[node] = now

	if t.sweep(now) > 0 {
		changed = true
	}
	perf.TopologyNodes.Set(float64(len(t.parents)))
	return changed
}

// sweep drops every node not confirmed within the timeout. Must hold mu.
func (t *Topology) sweep(now time.Time) int {
	deadline := now.Add(-t.timeout)
	evicted := 0
	for node, seen := range t.seen {
		if seen.Before(deadline) {
			delete(t.seen, node)
			delete(t.parents, node)
			evicted++
			t.log.Info("node timed out", "node", node, "last_seen", seen)
		}
	}
	if evicted > 0 {
		perf.TopologyEvictions.Add(float64(evicted))
	}
	return evicted
}

// Snapshot returns a fresh view of the current tree.
func (t *Topology) Snapshot() state.Snapshot {
	return state.SnapshotFromParents(t.Parents())
}

// Parents returns a copy of the parent sets of all tracked nodes.
func (t *Topology) Parents() map[state.Addr][]state.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[state.Addr][]state.Addr, len(t.parents))
	for node, ps := range t.parents {
		out[node] = slices.Clone(ps)
	}
	return out
}

// LastSeen returns the time every tracked node was last confirmed.
func (t *Topology) LastSeen() map[state.Addr]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.seen)
}

func (t *Topology) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.parents)
}

func (t *Topology) consistent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.parents) != len(t.seen) {
		return false
	}
	for node := range t.parents {
		if _, ok := t.seen[node]; !ok {
			return false
		}
	}
	return true
}

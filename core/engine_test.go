package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testBackoff = 15 * time.Second

// countingAllocator wraps a real allocator, recording the snapshots it was
// asked to allocate. If gate is set, every pass blocks until it is released.
type countingAllocator struct {
	Allocator
	gate chan struct{}

	mu    sync.Mutex
	snaps []state.Snapshot
}

func (c *countingAllocator) Allocate(snap state.Snapshot, capacity Capacity) (*Allocation, error) {
	c.mu.Lock()
	c.snaps = append(c.snaps, snap)
	c.mu.Unlock()
	if c.gate != nil {
		<-c.gate
	}
	return c.Allocator.Allocate(snap, capacity)
}

func (c *countingAllocator) calls() []state.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]state.Snapshot(nil), c.snaps...)
}

type tableSink struct {
	mu     sync.Mutex
	tables []*state.ScheduleTable
	nodes  [][]state.Addr
}

func (s *tableSink) Dispatch(ctx context.Context, nodes []state.Addr, table *state.ScheduleTable) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, table)
	s.nodes = append(s.nodes, nodes)
	return 0
}

func (s *tableSink) received() []*state.ScheduleTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*state.ScheduleTable(nil), s.tables...)
}

// verifyNoLeaks checks for leaked goroutines once every other cleanup of t
// has run, including the shutdown of harnesses created after this call.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() {
		goleak.VerifyNone(t, ignore)
	})
}

type engineHarness struct {
	*Engine
	mock  *clock.Mock
	alloc *countingAllocator
	sink  *tableSink
}

func newEngineHarness(t *testing.T, c Capacity) *engineHarness {
	t.Helper()
	mock := clock.NewMock()
	alloc := &countingAllocator{Allocator: &Tasa{Log: discardLogger()}}
	sink := &tableSink{}
	e := NewEngine(alloc, c, testBackoff, sink, mock, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &engineHarness{Engine: e, mock: mock, alloc: alloc, sink: sink}
}

func (h *engineHarness) status(t *testing.T) EngineStatus {
	t.Helper()
	s, ok := h.Status()
	require.True(t, ok)
	return s
}

// waitFor blocks until the engine reports the given condition.
func (h *engineHarness) waitFor(t *testing.T, cond func(s EngineStatus) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := h.Status()
		return ok && cond(s)
	}, 5*time.Second, time.Millisecond)
}

func threeNodeSnapshot() state.Snapshot {
	a, b, c := node(0x88), node(1), node(2)
	return state.SnapshotFromParents(map[state.Addr][]state.Addr{
		b: {a},
		c: {a},
	})
}

func chainSnapshot(n int) state.Snapshot {
	parents := make(map[state.Addr][]state.Addr)
	for i := 1; i <= n; i++ {
		parents[node(i)] = []state.Addr{node(i - 1)}
	}
	return state.SnapshotFromParents(parents)
}

func TestEngineIdleOnStart(t *testing.T) {
	verifyNoLeaks(t)
	h := newEngineHarness(t, defaultCapacity)

	s := h.status(t)
	assert.Equal(t, Idle, s.State)
	assert.Zero(t, s.Epoch)
	assert.Nil(t, h.Schedule())
}

func TestEngineDebounceCollapses(t *testing.T) {
	verifyNoLeaks(t)
	h := newEngineHarness(t, defaultCapacity)

	h.OnTopologyChanged(chainSnapshot(1))
	h.OnTopologyChanged(chainSnapshot(2))
	last := threeNodeSnapshot()
	h.OnTopologyChanged(last)

	s := h.status(t)
	assert.Equal(t, PendingRecompute, s.State)
	assert.Equal(t, uint64(3), s.Epoch)
	assert.Equal(t, uint64(1), s.PendingEpoch)

	// the first timer is stale and is re-armed for the latest epoch
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.PendingEpoch == 3 })
	assert.Empty(t, h.alloc.calls())

	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 1 })

	calls := h.alloc.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, last, calls[0])

	table := h.Schedule()
	require.NotNil(t, table)
	assert.Equal(t, uint64(3), table.Epoch)
	assert.True(t, table.Feasible)
	assert.Equal(t, "tasa", table.Algorithm)
	assert.Len(t, table.Entries, 2)
	assert.Len(t, h.sink.received(), 1)

	s = h.status(t)
	assert.Equal(t, Idle, s.State)
	assert.Equal(t, uint64(3), s.ComputedEpoch)
}

func TestEngineComputedEpochIsIdempotent(t *testing.T) {
	verifyNoLeaks(t)
	h := newEngineHarness(t, defaultCapacity)

	h.OnTopologyChanged(threeNodeSnapshot())
	h.status(t)
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 1 })

	// a duplicate timer for an epoch that has already been computed
	h.post(func() { h.fire(1) })
	s := h.status(t)
	assert.Equal(t, Idle, s.State)
	assert.Equal(t, uint64(1), s.Passes)
	assert.Len(t, h.alloc.calls(), 1)
}

func TestEngineChangeDuringCompute(t *testing.T) {
	verifyNoLeaks(t)
	h := newEngineHarness(t, defaultCapacity)
	h.alloc.gate = make(chan struct{})

	first := chainSnapshot(2)
	h.OnTopologyChanged(first)
	h.status(t)
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.State == Computing })

	second := threeNodeSnapshot()
	h.OnTopologyChanged(second)
	s := h.status(t)
	assert.Equal(t, Computing, s.State)
	assert.Equal(t, uint64(2), s.Epoch)

	h.alloc.gate <- struct{}{}
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 1 && s.State == PendingRecompute })
	assert.Equal(t, uint64(1), h.Schedule().Epoch)
	assert.Equal(t, uint64(2), h.status(t).PendingEpoch)

	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.State == Computing })
	h.alloc.gate <- struct{}{}
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 2 && s.State == Idle })

	calls := h.alloc.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, first, calls[0])
	assert.Equal(t, second, calls[1])
	assert.Equal(t, uint64(2), h.Schedule().Epoch)
}

func TestEngineCommitsPartialSchedule(t *testing.T) {
	verifyNoLeaks(t)
	h := newEngineHarness(t, Capacity{SlotCount: 1, SlotStart: 4, ChannelCount: 16})

	h.OnTopologyChanged(chainSnapshot(3))
	h.status(t)
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 1 })

	table := h.Schedule()
	require.NotNil(t, table)
	assert.False(t, table.Feasible)
	assert.NotEmpty(t, table.Entries)
	require.Len(t, h.sink.received(), 1)
	assert.Same(t, table, h.sink.received()[0])
}

func TestEngineKeepsTableOnInputError(t *testing.T) {
	verifyNoLeaks(t)
	h := newEngineHarness(t, defaultCapacity)

	h.OnTopologyChanged(threeNodeSnapshot())
	h.status(t)
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 1 })
	good := h.Schedule()
	require.NotNil(t, good)

	cyclic := state.Snapshot{
		Nodes: []state.Addr{node(1), node(2)},
		Edges: []state.Edge{{From: node(1), To: node(2)}, {From: node(2), To: node(1)}},
	}
	h.OnTopologyChanged(cyclic)
	h.status(t)
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 2 })

	assert.Same(t, good, h.Schedule())
	assert.Len(t, h.sink.received(), 1)
	assert.Equal(t, Idle, h.status(t).State)
}

func TestEngineRecompute(t *testing.T) {
	verifyNoLeaks(t)
	h := newEngineHarness(t, defaultCapacity)

	snap := threeNodeSnapshot()
	h.OnTopologyChanged(snap)
	h.status(t)
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 1 })

	h.Recompute()
	assert.Equal(t, PendingRecompute, h.status(t).State)
	h.mock.Add(testBackoff)
	h.waitFor(t, func(s EngineStatus) bool { return s.Passes == 2 })

	calls := h.alloc.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, snap, calls[1])
	assert.Equal(t, uint64(2), h.Schedule().Epoch)
	assert.Len(t, h.sink.received(), 2)
}

func TestEngineStopped(t *testing.T) {
	verifyNoLeaks(t)
	mock := clock.NewMock()
	e := NewEngine(&Tasa{Log: discardLogger()}, defaultCapacity, testBackoff, nil, mock, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	e.OnTopologyChanged(threeNodeSnapshot())
	cancel()
	<-done

	_, ok := e.Status()
	assert.False(t, ok)
	// posting after stop never blocks
	e.OnTopologyChanged(threeNodeSnapshot())
	e.Recompute()
	mock.Add(testBackoff)
}

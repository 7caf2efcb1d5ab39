package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
)

type EngineState int

const (
	Idle EngineState = iota
	PendingRecompute
	Computing
)

func (s EngineState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingRecompute:
		return "pending"
	case Computing:
		return "computing"
	default:
		return "unknown"
	}
}

// ScheduleSink receives every committed schedule table.
type ScheduleSink interface {
	Dispatch(ctx context.Context, nodes []state.Addr, table *state.ScheduleTable) int
}

// EngineStatus is a point in time view of the engine.
type EngineStatus struct {
	State         EngineState
	Epoch         uint64
	PendingEpoch  uint64
	ComputedEpoch uint64
	Passes        uint64
}

// Engine debounces topology changes and recomputes the schedule. All of its
// state is owned by the goroutine running Run; other goroutines post closures
// to it. At most one allocation is in flight.
type Engine struct {
	Allocator Allocator
	Capacity  Capacity
	Backoff   time.Duration
	Sink      ScheduleSink
	Clock     clock.Clock
	Log       *slog.Logger

	events  chan func()
	stopped chan struct{}
	table   atomic.Pointer[state.ScheduleTable]
	wg      sync.WaitGroup

	// owned by the event loop
	ctx           context.Context
	state         EngineState
	epoch         uint64
	pendingEpoch  uint64
	computedEpoch uint64
	passes        uint64
	snapshot      state.Snapshot
	timer         *clock.Timer
}

func NewEngine(alloc Allocator, c Capacity, backoff time.Duration, sink ScheduleSink, clk clock.Clock, log *slog.Logger) *Engine {
	return &Engine{
		Allocator: alloc,
		Capacity:  c,
		Backoff:   backoff,
		Sink:      sink,
		Clock:     clk,
		Log:       log,
		events:    make(chan func(), state.EngineQueueSize),
		stopped:   make(chan struct{}),
	}
}

// Run processes engine events until ctx is cancelled. A running allocation
// is waited for before Run returns.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	e.Log.Debug("started schedule engine")
	defer func() {
		if e.timer != nil {
			e.timer.Stop()
		}
		close(e.stopped)
		e.wg.Wait()
		e.Log.Debug("stopped schedule engine")
	}()
	for {
		select {
		case fun := <-e.events:
			start := time.Now()
			fun()
			if elapsed := time.Since(start); elapsed > state.SlowDispatchDelay {
				e.Log.Warn("engine event took a long time!", "elapsed", elapsed)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) post(fun func()) bool {
	select {
	case e.events <- fun:
		return true
	case <-e.stopped:
		return false
	}
}

// OnTopologyChanged records a new snapshot. It never waits for an allocation.
func (e *Engine) OnTopologyChanged(snap state.Snapshot) {
	e.post(func() {
		e.epoch++
		e.snapshot = snap
		e.Log.Debug("topology changed", "epoch", e.epoch, "nodes", len(snap.Nodes), "edges", len(snap.Edges), "state", e.state)
		if e.state == Idle {
			e.arm()
		}
	})
}

// Recompute schedules a new pass over the current snapshot.
func (e *Engine) Recompute() {
	e.post(func() {
		e.epoch++
		e.Log.Info("recompute requested", "epoch", e.epoch)
		if e.state == Idle {
			e.arm()
		}
	})
}

// Schedule returns the last committed table, nil before the first pass.
func (e *Engine) Schedule() *state.ScheduleTable {
	return e.table.Load()
}

// Status queries the event loop, it returns false if the engine is stopped.
func (e *Engine) Status() (EngineStatus, bool) {
	ret := make(chan EngineStatus, 1)
	if !e.post(func() {
		ret <- EngineStatus{
			State:         e.state,
			Epoch:         e.epoch,
			PendingEpoch:  e.pendingEpoch,
			ComputedEpoch: e.computedEpoch,
			Passes:        e.passes,
		}
	}) {
		return EngineStatus{}, false
	}
	select {
	case s := <-ret:
		return s, true
	case <-e.stopped:
		return EngineStatus{}, false
	}
}

// arm starts the debounce timer for the latest epoch.
func (e *Engine) arm() {
	epoch := e.epoch
	e.pendingEpoch = epoch
	if e.state != Computing {
		e.state = PendingRecompute
	}
	e.timer = e.Clock.AfterFunc(e.Backoff, func() {
		e.post(func() {
			e.fire(epoch)
		})
	})
}

func (e *Engine) fire(epoch uint64) {
	if epoch <= e.computedEpoch && epoch == e.epoch {
		e.Log.Debug("schedule already computed", "epoch", epoch)
		return
	}
	if epoch < e.epoch || e.state == Computing {
		e.Log.Debug("skipping stale recompute", "epoch", epoch, "latest", e.epoch, "state", e.state)
		e.arm()
		return
	}
	e.state = Computing
	snap := e.snapshot
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.compute(snap, epoch)
		e.post(func() {
			e.computed(epoch)
		})
	}()
}

func (e *Engine) computed(epoch uint64) {
	e.computedEpoch = epoch
	e.passes++
	e.state = Idle
	if e.epoch > epoch {
		// the topology moved on while we were busy
		e.arm()
	}
}

// compute runs on its own goroutine, it must not touch loop owned state
// other than through its arguments.
func (e *Engine) compute(snap state.Snapshot, epoch uint64) {
	name := e.Allocator.Name()
	start := e.Clock.Now()
	res, err := e.Allocator.Allocate(snap, e.Capacity)
	elapsed := e.Clock.Since(start)
	perf.AllocationLatency.Add(float64(elapsed.Microseconds()))
	if err != nil {
		perf.Allocations.WithLabelValues(name, "error").Inc()
		if errors.Is(err, ErrInvalidCapacity) {
			e.Log.Error("schedule capacity misconfigured", "error", err)
		} else {
			e.Log.Error("cannot compute schedule for topology, keeping previous schedule", "epoch", epoch, "error", err)
		}
		return
	}

	table := &state.ScheduleTable{
		Entries:    res.Entries,
		Feasible:   res.Feasible,
		Epoch:      epoch,
		Algorithm:  name,
		ComputedAt: e.Clock.Now(),
	}
	if res.Feasible {
		perf.Allocations.WithLabelValues(name, "feasible").Inc()
		e.Log.Info("computed schedule", "epoch", epoch, "entries", len(table.Entries), "algorithm", name, "elapsed", elapsed)
	} else {
		perf.Allocations.WithLabelValues(name, "infeasible").Inc()
		e.Log.Error("schedule capacity exhausted, using partial schedule", "epoch", epoch, "entries", len(table.Entries),
			"unassigned", len(res.Unassigned), "slots", e.Capacity.SlotCount, "channels", e.Capacity.ChannelCount)
	}
	e.Log.Debug("schedule table\n" + table.Format())

	e.table.Store(table)
	perf.ScheduleEntries.Set(float64(len(table.Entries)))
	if e.Sink != nil {
		e.Sink.Dispatch(e.ctx, snap.Nodes, table)
	}
}

package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"
)

// Delivery is the outcome of the last schedule push to a node.
type Delivery struct {
	Epoch     uint64
	Root      bool
	Fragments int
	Sent      int
	Err       string
	At        time.Time
}

func (d Delivery) String() string {
	role := "node"
	if d.Root {
		role = "root"
	}
	if d.Err != "" {
		return fmt.Sprintf("%s epoch %d: %d/%d fragments, error: %s", role, d.Epoch, d.Sent, d.Fragments, d.Err)
	}
	return fmt.Sprintf("%s epoch %d: %d/%d fragments", role, d.Epoch, d.Sent, d.Fragments)
}

// Dispatcher fragments a schedule table and pushes it to every node. Nodes
// are independent: a failed node never stops delivery to the others.
type Dispatcher struct {
	Nodes       NodeTransport
	RootSuffix  string
	MaxEntries  int
	Parallelism int
	Timeout     time.Duration // per fragment, zero disables it
	Retries     int
	Deliveries  *ttlcache.Cache[state.Addr, Delivery]
	Clock       clock.Clock
	Log         *slog.Logger

	mu   sync.RWMutex
	root RootLink
}

func NewDispatcher(cfg state.DispatchCfg, nodes NodeTransport, clk clock.Clock, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Nodes:       nodes,
		RootSuffix:  cfg.RootSuffix,
		MaxEntries:  cfg.MaxEntries,
		Parallelism: cfg.Parallelism,
		Timeout:     cfg.Timeout,
		Retries:     cfg.Retries,
		Deliveries: ttlcache.New[state.Addr, Delivery](
			ttlcache.WithTTL[state.Addr, Delivery](state.DeliveryLogTTL),
			ttlcache.WithDisableTouchOnHit[state.Addr, Delivery](),
		),
		Clock: clk,
		Log:   log,
	}
}

// BindRoot replaces the link used to reach the root mote and returns the
// previous one.
func (d *Dispatcher) BindRoot(link RootLink) RootLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.root
	d.root = link
	return old
}

func (d *Dispatcher) Root() RootLink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

func (d *Dispatcher) IsRoot(node state.Addr) bool {
	return node.HasSuffix(d.RootSuffix)
}

// Dispatch pushes table to every node in nodes and returns the number of
// nodes that could not be fully delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, nodes []state.Addr, table *state.ScheduleTable) int {
	start := d.Clock.Now()
	d.Log.Debug("starting schedule dispatch", "entries", len(table.Entries), "nodes", len(nodes))

	var failed atomic.Int32
	g := errgroup.Group{}
	g.SetLimit(max(d.Parallelism, 1))
	for _, node := range nodes {
		g.Go(func() error {
			delivery := d.deliver(ctx, node, table)
			if delivery.Fragments > 0 {
				d.Deliveries.Set(node, delivery, ttlcache.DefaultTTL)
			}
			if delivery.Err != "" {
				failed.Add(1)
				role := "node"
				if delivery.Root {
					role = "root"
				}
				perf.DispatchFailures.WithLabelValues(role).Inc()
				d.Log.Warn("failed to deliver schedule", "node", node, "role", role, "sent", delivery.Sent, "fragments", delivery.Fragments, "error", delivery.Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := d.Clock.Since(start)
	perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
	d.Log.Debug("schedule dispatch done", "failed", failed.Load(), "elapsed", elapsed)
	return int(failed.Load())
}

func (d *Dispatcher) deliver(ctx context.Context, node state.Addr, table *state.ScheduleTable) Delivery {
	delivery := Delivery{
		Epoch: table.Epoch,
		Root:  d.IsRoot(node),
		At:    d.Clock.Now(),
	}
	frags, err := Fragment(node, table.Entries, d.MaxEntries)
	if err != nil {
		delivery.Err = err.Error()
		return delivery
	}
	delivery.Fragments = len(frags)
	if len(frags) == 0 {
		return delivery
	}
	d.Log.Debug("sending schedule", "node", node, "fragments", len(frags), "root", delivery.Root)

	var root RootLink
	if delivery.Root {
		root = d.Root()
		if root == nil {
			delivery.Err = ErrRootUnbound.Error()
			return delivery
		}
	}
	// fragments of one node go out in order, the first one resets the mote's schedule
	for i, frag := range frags {
		err = d.send(ctx, root, node, frag)
		if err != nil {
			delivery.Err = fmt.Sprintf("fragment %d: %s", i, err)
			return delivery
		}
		delivery.Sent++
		perf.FragmentsPerSecond.Add(1)
	}
	return delivery
}

// send delivers one fragment within the dispatch timeout. Root fragments go
// through root when it is set.
func (d *Dispatcher) send(ctx context.Context, root RootLink, node state.Addr, frag []byte) error {
	timeout := d.Timeout
	if root == nil {
		// coap pushes may retry, with a backoff between attempts
		timeout *= time.Duration(d.Retries + 2)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if root != nil {
		return root.AddSchedule(ctx, frag)
	}
	return d.Nodes.Push(ctx, node, frag)
}

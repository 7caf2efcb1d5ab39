package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/encodeous/weft/state"
)

// Scheduler wires the schedule engine to the mesh and to the motes.
type Scheduler struct {
	*Engine
	Dispatcher *Dispatcher
	// Dial connects to the root bridge, DialRootLink unless replaced
	Dial func(ctx context.Context, addr string) (RootLink, error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (sch *Scheduler) Init(s *state.State) error {
	log := s.Log.With("module", "scheduler")
	alloc, err := NewAllocator(s.Schedule.Algorithm, log)
	if err != nil {
		return err
	}

	// s.Dispatch is the main loop method, the config lives under s.Cfg
	cfg := s.Cfg.Dispatch
	var nodes NodeTransport
	var dry *LogTransport
	if cfg.DryRun {
		dry = &LogTransport{Log: log}
		nodes = dry
		log.Warn("dispatch is in dry run mode, schedules will only be logged")
	} else {
		nodes = NewCoapTransport(cfg, log)
	}
	sch.Dispatcher = NewDispatcher(cfg, nodes, s.Clock, log)
	sch.Engine = NewEngine(alloc, CapacityFromCfg(s.Schedule), s.Schedule.Backoff, sch.Dispatcher, s.Clock, log)

	if sch.Dial == nil {
		sch.Dial = func(ctx context.Context, addr string) (RootLink, error) {
			return DialRootLink(ctx, addr)
		}
	}

	ctx, cancel := context.WithCancel(s.Context)
	sch.cancel = cancel

	s.RepeatTask(func(s *state.State) error {
		sch.Dispatcher.Deliveries.DeleteExpired()
		return nil
	}, state.DeliveryLogTTL)

	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		sch.Engine.Run(ctx)
	}()

	if dry != nil {
		_ = sch.BindRoot(dry)
	} else if s.Root.Dial != "" {
		sch.wg.Add(1)
		go func() {
			defer sch.wg.Done()
			sch.bindRoot(ctx, s.Root.Dial, log)
		}()
	} else {
		log.Warn("no root bridge configured, the root mote will not receive schedules")
	}

	mesh := Get[*Mesh](s)
	changes := make(chan interface{}, 16)
	mesh.Register(changes)
	sch.wg.Add(1)
	go func() {
		defer sch.wg.Done()
		for {
			select {
			case msg := <-changes:
				sch.OnTopologyChanged(msg.(state.Snapshot))
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// bindRoot keeps dialing the root bridge until it answers or ctx ends.
func (sch *Scheduler) bindRoot(ctx context.Context, addr string, log *slog.Logger) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	err := backoff.RetryNotify(func() error {
		link, err := sch.Dial(ctx, addr)
		if err != nil {
			return err
		}
		if err := sch.BindRoot(link); err != nil {
			log.Warn("failed to close previous root link", "error", err)
		}
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn("root bridge unavailable", "addr", addr, "retry", next, "error", err)
	})
	if err != nil {
		return
	}
	log.Info("bound root bridge", "addr", addr)
}

// BindRoot routes root fragments through link from now on. The previous link
// is closed.
func (sch *Scheduler) BindRoot(link RootLink) error {
	if old := sch.Dispatcher.BindRoot(link); old != nil && old != link {
		return old.Close()
	}
	return nil
}

func (sch *Scheduler) Cleanup(s *state.State) error {
	if sch.cancel == nil {
		return nil
	}
	sch.cancel()
	sch.wg.Wait()
	if root := sch.Dispatcher.BindRoot(nil); root != nil {
		return root.Close()
	}
	return nil
}

package core

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/encodeous/weft/state"
)

var (
	ErrNoRoot          = errors.New("topology has no root")
	ErrMultipleRoots   = errors.New("topology has more than one root")
	ErrCyclicTopology  = errors.New("topology contains a cycle")
	ErrInvalidCapacity = errors.New("invalid slot/channel capacity")
)

// Capacity is the slot frame region the allocator may hand out.
type Capacity struct {
	SlotCount    int
	SlotStart    int
	ChannelCount int
}

func (c Capacity) Validate() error {
	if c.SlotCount <= 0 || c.ChannelCount <= 0 || c.SlotStart < 0 {
		return fmt.Errorf("%w: %d slots from %d, %d channels", ErrInvalidCapacity, c.SlotCount, c.SlotStart, c.ChannelCount)
	}
	if c.SlotStart+c.SlotCount-1 > state.MaxSlotOffset || c.ChannelCount > state.MaxChannelOffsets {
		return fmt.Errorf("%w: slot range [%d, %d) or %d channels out of bounds", ErrInvalidCapacity, c.SlotStart, c.SlotStart+c.SlotCount, c.ChannelCount)
	}
	return nil
}

func CapacityFromCfg(cfg state.ScheduleCfg) Capacity {
	start := state.DefaultSlotStart
	if cfg.SlotStart != nil {
		start = *cfg.SlotStart
	}
	return Capacity{
		SlotCount:    cfg.SlotCount,
		SlotStart:    start,
		ChannelCount: cfg.ChannelCount,
	}
}

// Allocation is the output of an allocator. Entries may be partial when
// Feasible is false.
type Allocation struct {
	Feasible   bool
	Entries    []state.ScheduleEntry
	Unassigned []state.Edge
}

// Allocator assigns (slot, channel) cells to the edges of a snapshot.
type Allocator interface {
	Name() string
	Allocate(snap state.Snapshot, c Capacity) (*Allocation, error)
}

func NewAllocator(name string, log *slog.Logger) (Allocator, error) {
	switch name {
	case "tasa", "":
		return &Tasa{Log: log}, nil
	case "firstfit":
		return &FirstFit{Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown allocator %q", name)
	}
}

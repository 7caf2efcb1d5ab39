package core

import (
	"log/slog"

	"github.com/encodeous/weft/state"
)

// FirstFit gives every edge, in input order, the first slot that neither
// endpoint uses yet. It always uses channel offset 0.
type FirstFit struct {
	Log *slog.Logger
}

func (f *FirstFit) Name() string {
	return "firstfit"
}

func (f *FirstFit) Allocate(snap state.Snapshot, c Capacity) (*Allocation, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	res := &Allocation{
		Feasible: true,
		Entries:  make([]state.ScheduleEntry, 0, len(snap.Edges)),
	}
	used := make(map[state.Addr]map[int]struct{}, len(snap.Nodes))
	slots := func(a state.Addr) map[int]struct{} {
		s, ok := used[a]
		if !ok {
			s = make(map[int]struct{})
			used[a] = s
		}
		return s
	}

	for _, edge := range snap.Edges {
		from, to := slots(edge.From), slots(edge.To)
		assigned := false
		for slot := c.SlotStart; slot < c.SlotStart+c.SlotCount; slot++ {
			_, fromBusy := from[slot]
			_, toBusy := to[slot]
			if fromBusy || toBusy {
				continue
			}
			from[slot] = struct{}{}
			to[slot] = struct{}{}
			res.Entries = append(res.Entries, state.ScheduleEntry{
				From:    edge.From,
				To:      edge.To,
				Slot:    uint16(slot),
				Channel: 0,
			})
			f.Log.Debug("assigned", "from", edge.From, "to", edge.To, "slot", slot)
			assigned = true
			break
		}
		if !assigned {
			f.Log.Error("cannot assign edge", "from", edge.From, "to", edge.To)
			res.Unassigned = append(res.Unassigned, edge)
			res.Feasible = false
		}
	}
	return res, nil
}

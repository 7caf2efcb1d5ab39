package core

import (
	"github.com/dustin/go-broadcast"
	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
)

// Mesh owns the reported topology and publishes a state.Snapshot to every
// registered listener whenever it changes.
type Mesh struct {
	*Topology
	broadcast.Broadcaster
}

func (m *Mesh) Init(s *state.State) error {
	m.Topology = NewTopology(s.Clock, s.Topology.NodeTimeout, s.Log.With("module", "mesh"))
	m.Broadcaster = broadcast.NewBroadcaster(1024)
	return nil
}

func (m *Mesh) Cleanup(s *state.State) error {
	return m.Broadcaster.Close()
}

// ReportParents handles one parent report. Must be called on the main loop so
// that snapshots are published in the order the reports were applied.
func (m *Mesh) ReportParents(node state.Addr, parents []state.Addr) bool {
	perf.ReportsPerSecond.Add(1)
	if !m.UpdateParents(node, parents) {
		return false
	}
	m.Submit(m.Snapshot())
	return true
}

package state

import (
	"fmt"
	"slices"
)

// Edge is a directed child -> parent link of the routing tree.
type Edge struct {
	From Addr `yaml:"from" json:"from"`
	To   Addr `yaml:"to" json:"to"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}

// Snapshot is a read-only view of the topology. Nodes is sorted and contains
// every address referenced by Edges.
type Snapshot struct {
	Nodes []Addr `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func (s Snapshot) HasNode(a Addr) bool {
	_, ok := slices.BinarySearchFunc(s.Nodes, a, Addr.Compare)
	return ok
}

// Validate checks that every edge endpoint is part of the node set.
func (s Snapshot) Validate() error {
	for _, e := range s.Edges {
		if !s.HasNode(e.From) {
			return fmt.Errorf("edge %s references unknown node %s", e, e.From)
		}
		if !s.HasNode(e.To) {
			return fmt.Errorf("edge %s references unknown node %s", e, e.To)
		}
	}
	return nil
}

// SnapshotFromParents builds a snapshot from a parent map, children in address
// order and parents in reported order.
func SnapshotFromParents(parents map[Addr][]Addr) Snapshot {
	nodes := make(map[Addr]struct{})
	children := make([]Addr, 0, len(parents))
	for child, ps := range parents {
		children = append(children, child)
		nodes[child] = struct{}{}
		for _, p := range ps {
			nodes[p] = struct{}{}
		}
	}
	slices.SortFunc(children, Addr.Compare)
	snap := Snapshot{
		Nodes: make([]Addr, 0, len(nodes)),
		Edges: make([]Edge, 0),
	}
	for n := range nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	slices.SortFunc(snap.Nodes, Addr.Compare)
	for _, child := range children {
		for _, p := range parents[child] {
			snap.Edges = append(snap.Edges, Edge{From: child, To: p})
		}
	}
	return snap
}

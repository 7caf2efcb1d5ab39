package core

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"

	"github.com/encodeous/weft/state"
)

// Tasa is a traffic aware scheduling allocator. Every node sources one packet
// per slotframe that has to travel up to the root; slots are filled greedily
// with the nodes that still have the most packets to forward through them.
type Tasa struct {
	Log *slog.Logger
}

type tasaNode struct {
	addr     state.Addr
	parent   *tasaNode
	children []*tasaNode
	// local is the number of packets queued at the node, global the number of
	// transmissions the node still has to make for its whole subtree
	local  int
	global int
}

func (t *Tasa) Name() string {
	return "tasa"
}

// buildTree links every child to its first reported parent and finds the root.
func (t *Tasa) buildTree(snap state.Snapshot) ([]*tasaNode, *tasaNode, error) {
	byAddr := make(map[state.Addr]*tasaNode)
	nodes := make([]*tasaNode, 0)
	get := func(a state.Addr) *tasaNode {
		n, ok := byAddr[a]
		if !ok {
			n = &tasaNode{addr: a}
			byAddr[a] = n
			nodes = append(nodes, n)
		}
		return n
	}

	for _, e := range snap.Edges {
		if e.From == e.To {
			return nil, nil, fmt.Errorf("%w: %s is its own parent", ErrCyclicTopology, e.From)
		}
		child, parent := get(e.From), get(e.To)
		if child.parent != nil {
			if child.parent != parent {
				t.Log.Debug("ignoring secondary parent", "node", child.addr, "parent", parent.addr, "preferred", child.parent.addr)
			}
			continue
		}
		child.parent = parent
		parent.children = append(parent.children, child)
	}
	if len(nodes) == 0 {
		return nodes, nil, nil
	}

	roots := make([]state.Addr, 0, 1)
	var root *tasaNode
	for _, n := range nodes {
		if n.parent == nil {
			roots = append(roots, n.addr)
			root = n
		}
	}
	switch {
	case len(roots) == 0:
		return nil, nil, ErrNoRoot
	case len(roots) > 1:
		slices.SortFunc(roots, state.Addr.Compare)
		return nil, nil, fmt.Errorf("%w: %v", ErrMultipleRoots, roots)
	}

	for _, n := range nodes {
		steps := 0
		for a := n; a != root; a = a.parent {
			if a == nil || steps > len(nodes) {
				return nil, nil, fmt.Errorf("%w: through %s", ErrCyclicTopology, n.addr)
			}
			steps++
		}
	}
	return nodes, root, nil
}

// excluded reports whether n would share a radio with a transmission already
// placed in this slot: n itself, its parent, its children and its siblings.
func excluded(n *tasaNode, busy map[*tasaNode]bool) bool {
	if busy[n] || busy[n.parent] {
		return true
	}
	for _, c := range n.children {
		if busy[c] {
			return true
		}
	}
	for _, s := range n.parent.children {
		if s != n && busy[s] {
			return true
		}
	}
	return false
}

// rank orders the nodes that still have to transmit by global queue, then
// local queue, then address, all descending.
func rank(nodes []*tasaNode) []*tasaNode {
	ranked := make([]*tasaNode, 0, len(nodes))
	for _, n := range nodes {
		if n.global > 0 {
			ranked = append(ranked, n)
		}
	}
	slices.SortFunc(ranked, func(a, b *tasaNode) int {
		if a.global != b.global {
			return cmp.Compare(b.global, a.global)
		}
		if a.local != b.local {
			return cmp.Compare(b.local, a.local)
		}
		return b.addr.Compare(a.addr)
	})
	return ranked
}

func (t *Tasa) Allocate(snap state.Snapshot, c Capacity) (*Allocation, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	nodes, root, err := t.buildTree(snap)
	if err != nil {
		return nil, err
	}
	res := &Allocation{
		Feasible: true,
		Entries:  make([]state.ScheduleEntry, 0),
	}
	if root == nil {
		return res, nil
	}

	// every node sources one packet, which is forwarded by all of its ancestors
	for _, n := range nodes {
		if n == root {
			continue
		}
		n.local = 1
		n.global++
		for a := n.parent; a != root; a = a.parent {
			a.global += n.local
		}
	}

	ranked := rank(nodes)
	for slot := 0; slot < c.SlotCount && len(ranked) > 0; slot++ {
		busy := make(map[*tasaNode]bool)
		sent := make([]*tasaNode, 0, c.ChannelCount)
		for ch := 0; ch < c.ChannelCount; ch++ {
			idx := slices.IndexFunc(ranked, func(n *tasaNode) bool {
				return n.local > 0 && !excluded(n, busy)
			})
			if idx == -1 {
				break
			}
			n := ranked[idx]
			busy[n] = true
			sent = append(sent, n)
			res.Entries = append(res.Entries, state.ScheduleEntry{
				From:    n.addr,
				To:      n.parent.addr,
				Slot:    uint16(c.SlotStart + slot),
				Channel: uint8(ch),
			})
		}
		for _, n := range sent {
			n.local--
			n.global--
			if n.parent != root {
				n.parent.local++
			}
		}
		ranked = rank(ranked)
	}

	if len(ranked) > 0 {
		res.Feasible = false
		outstanding := 0
		for _, n := range ranked {
			outstanding += n.global
		}
		t.Log.Debug("slot budget exhausted", "slots", c.SlotCount, "channels", c.ChannelCount, "outstanding", outstanding, "scheduled", len(res.Entries))
	}
	return res, nil
}

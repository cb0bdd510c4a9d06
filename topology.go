package hfsm

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// NodeKind classifies a node returned by Inspect
type NodeKind int

const (
	// Plain leaf state
	KindState NodeKind = iota
	// Leaf that ends its branch
	KindFinal
	// Nested machine
	KindMachine
)

func (k NodeKind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindFinal:
		return "final"
	case KindMachine:
		return "machine"
	default:
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
}

// NodeInfo is a read-only description of one node of a machine tree
type NodeInfo struct {
	Name       string
	Path       string
	Kind       NodeKind
	Initial    bool
	Active     bool
	Started    bool
	Terminated bool
	State      string
	Events     map[string]string
	Redirect   string
	Children   []NodeInfo
}

// Transitions lists the event targets of the node sorted by event name
func (n NodeInfo) Transitions() [][2]string {
	events := make([]string, 0, len(n.Events))
	for event := range n.Events {
		events = append(events, event)
	}
	sort.Strings(events)

	result := make([][2]string, len(events))
	for i, event := range events {
		result[i] = [2]string{event, n.Events[event]}
	}
	return result
}

// Walk calls fn for the node and each of its descendants, depth first
func (n NodeInfo) Walk(fn func(NodeInfo)) {
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Inspect describes the machine and its descendants, resolving deferred
// children. Active marks the nodes on the current active branch.
func (m *Machine) Inspect() (NodeInfo, error) {
	t := m.tree
	var info NodeInfo
	err := t.run(func() error {
		if err := t.materialize(m.id); err != nil {
			return err
		}
		var err error
		info, err = t.inspect(m.id, t.onActiveBranch(m.id))
		return err
	})
	return info, err
}

func (t *tree) onActiveBranch(id nodeID) bool {
	for child, parent := id, t.nodes[id].parent; parent != noNode; child, parent = parent, t.nodes[parent].parent {
		c := t.comp(parent)
		if !c.started || c.active != child {
			return false
		}
	}
	return t.comp(rootID).started
}

func (t *tree) inspect(id nodeID, active bool) (NodeInfo, error) {
	n := t.nodes[id]
	info := NodeInfo{
		Name:   n.name,
		Path:   t.path(id),
		Active: active,
	}
	if n.parent != noNode {
		info.Initial = t.comp(n.parent).initial == id
	}

	switch n.kind {
	case kindLeaf:
		info.Kind = KindState
		if n.leaf.IsFinal() {
			info.Kind = KindFinal
		}
		info.Events = n.leaf.Events()
		info.Redirect, _ = n.leaf.Redirect()
	case kindComposite:
		c := n.comp
		info.Kind = KindMachine
		info.Started = c.started
		info.Terminated = c.terminated
		info.State = c.current
		for _, child := range c.children {
			if err := t.materialize(child); err != nil {
				return NodeInfo{}, err
			}
			childInfo, err := t.inspect(child, active && c.started && c.active == child)
			if err != nil {
				return NodeInfo{}, err
			}
			info.Children = append(info.Children, childInfo)
		}
	}
	return info, nil
}

// fingerprint hashes the resolved topology: paths, kinds, transitions,
// redirects and initial children
func (t *tree) fingerprint() string {
	h := xxhash.New()
	t.walk(rootID, func(id nodeID) {
		n := t.nodes[id]
		fmt.Fprintf(h, "%s|%d|", t.path(id), n.kind)
		switch n.kind {
		case kindLeaf:
			_, _ = h.WriteString(n.leaf.signature())
		case kindComposite:
			_, _ = h.WriteString(t.nodes[n.comp.initial].name)
		}
		_, _ = h.WriteString("\n")
	})
	return fmt.Sprintf("%016x", h.Sum64())
}

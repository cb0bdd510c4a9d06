package visualization

import (
	"strings"

	"github.com/anggasct/hfsm"
)

// layout indexes an inspected tree by qualified path
type layout struct {
	root   hfsm.NodeInfo
	nodes  map[string]hfsm.NodeInfo
	owner  map[string]string
	leaves []hfsm.NodeInfo
}

func newLayout(root hfsm.NodeInfo) *layout {
	l := &layout{
		root:  root,
		nodes: make(map[string]hfsm.NodeInfo),
		owner: make(map[string]string),
	}
	l.index(root, "")
	return l
}

func (l *layout) index(info hfsm.NodeInfo, owner string) {
	l.nodes[info.Path] = info
	l.owner[info.Path] = owner
	if info.Kind != hfsm.KindMachine {
		l.leaves = append(l.leaves, info)
		return
	}
	for _, child := range info.Children {
		l.index(child, info.Path)
	}
}

// resolve finds the node a target of the leaf at from points at. Relative
// targets start at the owning machine; absolute ones at the rendered root.
func (l *layout) resolve(from, target string) (hfsm.NodeInfo, bool) {
	base := l.owner[from]
	if strings.HasPrefix(target, hfsm.PathSeparator) {
		base = l.root.Path
		target = strings.TrimPrefix(target, hfsm.PathSeparator)
	}
	node, ok := l.nodes[base+hfsm.PathSeparator+target]
	return node, ok
}

// entry returns the initial leaf reached by descending into a machine
func (l *layout) entry(machine hfsm.NodeInfo) (string, bool) {
	for machine.Kind == hfsm.KindMachine {
		next, found := hfsm.NodeInfo{}, false
		for _, child := range machine.Children {
			if child.Initial {
				next, found = child, true
				break
			}
		}
		if !found {
			return "", false
		}
		machine = next
	}
	return machine.Path, true
}

package hfsm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type nodeID int

const (
	noNode nodeID = -1
	rootID nodeID = 0
)

type nodeKind int

const (
	kindPending nodeKind = iota
	kindLeaf
	kindComposite
)

// node is one arena slot. Exactly one of leaf, comp or pending is set,
// according to kind.
type node struct {
	id      nodeID
	parent  nodeID
	name    string
	kind    nodeKind
	leaf    *State
	comp    *composite
	pending *Deferred
	failure error
}

// composite is the runtime of a machine node
type composite struct {
	name       string
	handle     *Machine
	parent     *composite
	children   []nodeID
	index      map[string]nodeID
	initial    nodeID
	active     nodeID
	current    string
	started    bool
	terminated bool
	observers  *registry

	contextMutex   sync.Mutex
	contextFactory ContextFactory
	context        Context

	view atomic.Pointer[machineView]
}

// machineView is the lock-free copy of a composite read by accessors
type machineView struct {
	state      string
	started    bool
	terminated bool
}

func newComposite(name string, factory ContextFactory) *composite {
	c := &composite{
		name:           name,
		index:          make(map[string]nodeID),
		initial:        noNode,
		active:         noNode,
		observers:      newRegistry(),
		contextFactory: factory,
	}
	c.publish()
	return c
}

func (c *composite) publish() {
	c.view.Store(&machineView{
		state:      c.current,
		started:    c.started,
		terminated: c.terminated,
	})
}

// contextValue builds the context on first use
func (c *composite) contextValue() (Context, error) {
	c.contextMutex.Lock()
	defer c.contextMutex.Unlock()

	if c.context != nil {
		return c.context, nil
	}
	if c.contextFactory == nil {
		c.context = NewFields()
		return c.context, nil
	}

	ctx, err := c.contextFactory()
	if err != nil {
		return nil, fmt.Errorf("building context of machine '%s': %w", c.name, err)
	}
	if ctx == nil {
		return nil, fmt.Errorf("building context of machine '%s': factory returned nil", c.name)
	}
	c.context = ctx
	return ctx, nil
}

func (c *composite) builtContext() Context {
	c.contextMutex.Lock()
	defer c.contextMutex.Unlock()
	return c.context
}

// tree is the node arena shared by a root machine and all machines nested in it
type tree struct {
	mutex        sync.Mutex
	instance     string
	nodes        []*node
	logger       *zap.Logger
	maxRedirects int
	outbox       []delivery
}

// run executes fn under the arena lock and then delivers the host
// notifications fn queued, in order, after the lock is released
func (t *tree) run(fn func() error) error {
	t.mutex.Lock()
	err := fn()
	out := t.outbox
	t.outbox = nil
	logger := t.logger
	t.mutex.Unlock()

	deliver(out, logger)
	return err
}

func (t *tree) comp(id nodeID) *composite {
	return t.nodes[id].comp
}

// attach appends child under parent. Names and graftability are checked by
// the caller.
func (t *tree) attach(parent nodeID, child Child) {
	id := nodeID(len(t.nodes))
	n := &node{id: id, parent: parent, name: child.childName()}
	t.nodes = append(t.nodes, n)

	pc := t.comp(parent)
	pc.children = append(pc.children, id)
	pc.index[n.name] = id

	switch c := child.(type) {
	case *State:
		n.kind = kindLeaf
		n.leaf = c
	case *Machine:
		t.graft(n, c)
	case Deferred:
		n.kind = kindPending
		d := c
		n.pending = &d
	}
}

// graftable reports why child cannot be nested, or nil
func graftable(child *Machine) error {
	if child.id != rootID {
		return fmt.Errorf("machine '%s' is already nested", child.Name())
	}
	if child.Started() {
		return fmt.Errorf("machine '%s' is already started", child.Name())
	}
	return nil
}

// graft moves the arena of child into t, with child's root taking slot n.
// Every handle of the moved machines is re-pointed to t.
func (t *tree) graft(n *node, child *Machine) {
	src := child.tree
	src.mutex.Lock()
	defer src.mutex.Unlock()

	base := nodeID(len(t.nodes))
	remap := func(old nodeID) nodeID {
		switch old {
		case noNode:
			return noNode
		case rootID:
			return n.id
		default:
			return base + old - 1
		}
	}

	srcRoot := src.nodes[rootID]
	n.kind = kindComposite
	n.comp = srcRoot.comp
	n.comp.parent = t.comp(n.parent)

	for _, moved := range src.nodes[1:] {
		moved.id = remap(moved.id)
		moved.parent = remap(moved.parent)
		t.nodes = append(t.nodes, moved)
	}

	for _, moved := range append([]*node{n}, t.nodes[base:]...) {
		if moved.kind != kindComposite {
			continue
		}
		c := moved.comp
		for i, id := range c.children {
			c.children[i] = remap(id)
		}
		for name, id := range c.index {
			c.index[name] = remap(id)
		}
		c.initial = remap(c.initial)
		c.active = remap(c.active)
		c.handle.tree = t
		c.handle.id = moved.id
	}

	src.nodes = nil
}

// materialize resolves a pending node exactly once. A failed resolution is
// remembered and returned on every later access.
func (t *tree) materialize(id nodeID) error {
	n := t.nodes[id]
	if n.failure != nil {
		return n.failure
	}
	if n.kind != kindPending {
		return nil
	}

	owner := t.comp(n.parent).name
	fail := func(issue string, err error) error {
		n.failure = NewInvalidChildFactoryError(owner, n.name, issue, err)
		n.pending = nil
		return n.failure
	}

	child, err := callFactory(n.pending.factory)
	if err != nil {
		return fail(fmt.Sprintf("factory for '%s' failed", n.name), err)
	}

	switch c := child.(type) {
	case *State:
		if c == nil {
			return fail(fmt.Sprintf("factory for '%s' returned a nil state", n.name), nil)
		}
		if c.name != n.name {
			return fail(fmt.Sprintf("factory for '%s' returned state '%s'", n.name, c.name), nil)
		}
		n.kind = kindLeaf
		n.leaf = c
	case *Machine:
		if c == nil {
			return fail(fmt.Sprintf("factory for '%s' returned a nil machine", n.name), nil)
		}
		if c.Name() != n.name {
			return fail(fmt.Sprintf("factory for '%s' returned machine '%s'", n.name, c.Name()), nil)
		}
		if c.tree == t {
			return fail(fmt.Sprintf("factory for '%s' returned a machine of the same tree", n.name), nil)
		}
		if err := graftable(c); err != nil {
			return fail(fmt.Sprintf("factory for '%s' returned an unusable machine", n.name), err)
		}
		t.graft(n, c)
	default:
		return fail(fmt.Sprintf("factory for '%s' returned %T, want *State or *Machine", n.name, child), nil)
	}

	n.pending = nil
	t.logger.Debug("deferred state resolved",
		zap.String("machine", owner),
		zap.String("state", n.name))
	return nil
}

func callFactory(factory func() (Child, error)) (child Child, err error) {
	if factory == nil {
		return nil, fmt.Errorf("nil factory")
	}
	defer func() {
		if r := recover(); r != nil {
			child = nil
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	return factory()
}

// materializeAll resolves every pending node reachable from the root
func (t *tree) materializeAll() error {
	var visit func(id nodeID) error
	visit = func(id nodeID) error {
		if err := t.materialize(id); err != nil {
			return err
		}
		n := t.nodes[id]
		if n.kind != kindComposite {
			return nil
		}
		for _, child := range n.comp.children {
			if err := visit(child); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(rootID)
}

// walk visits nodes depth first in child order
func (t *tree) walk(id nodeID, fn func(id nodeID)) {
	fn(id)
	n := t.nodes[id]
	if n.kind != kindComposite {
		return
	}
	for _, child := range n.comp.children {
		t.walk(child, fn)
	}
}

// composites lists machine nodes depth first
func (t *tree) composites() []nodeID {
	var ids []nodeID
	t.walk(rootID, func(id nodeID) {
		if t.nodes[id].kind == kindComposite {
			ids = append(ids, id)
		}
	})
	return ids
}

func (t *tree) depth(id nodeID) int {
	d := 0
	for p := t.nodes[id].parent; p != noNode; p = t.nodes[p].parent {
		d++
	}
	return d
}

// byDepth orders ids deepest first, keeping arena order for equal depth
func (t *tree) byDepth(ids []nodeID) {
	sort.SliceStable(ids, func(i, j int) bool {
		di, dj := t.depth(ids[i]), t.depth(ids[j])
		if di != dj {
			return di > dj
		}
		return ids[i] < ids[j]
	})
}

func (t *tree) path(id nodeID) string {
	var names []string
	for c := id; c != noNode; c = t.nodes[c].parent {
		names = append([]string{t.nodes[c].name}, names...)
	}
	return JoinPath(names...)
}

// childState is the name a child reports to its machine: the leaf name or
// the nested machine's qualified state
func (t *tree) childState(id nodeID) string {
	n := t.nodes[id]
	if n.kind == kindComposite {
		return n.comp.current
	}
	return n.name
}

// terminal reports whether an active child ends its machine's branch
func (t *tree) terminal(id nodeID) bool {
	n := t.nodes[id]
	switch n.kind {
	case kindLeaf:
		return n.leaf.IsFinal()
	case kindComposite:
		return n.comp.terminated
	default:
		return false
	}
}

// activeLeaf follows active children from id down to a leaf and returns the
// leaf together with the machine that directly contains it
func (t *tree) activeLeaf(id nodeID) (owner nodeID, leaf nodeID, ok bool) {
	c := t.comp(id)
	for c.started && c.active != noNode {
		child := t.nodes[c.active]
		if child.kind == kindLeaf {
			return id, child.id, true
		}
		if child.kind != kindComposite {
			return noNode, noNode, false
		}
		id = child.id
		c = child.comp
	}
	return noNode, noNode, false
}

package hfsm

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Machine is a composite state: a named group of children of which exactly
// one is active once the machine is started. A machine placed inside another
// machine becomes part of that machine's tree; its handle stays valid as a
// view of the nested node.
type Machine struct {
	tree *tree
	id   nodeID
	comp *composite
}

// NewMachine creates a machine from its children. The first child is the
// initial state unless WithInitial names another one.
func NewMachine(name string, context ContextFactory, children []Child, opts ...Option) (*Machine, error) {
	if !validName(name) {
		return nil, NewConfigurationError(ErrCodeInvalidName, name, name,
			fmt.Sprintf("invalid machine name '%s'", name))
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if len(children) == 0 {
		return nil, NewConfigurationError(ErrCodeUnknownInitialState, name, o.initial, "machine has no states")
	}

	seen := make(map[string]bool, len(children))
	for _, child := range children {
		if err := checkChild(name, child); err != nil {
			return nil, err
		}
		childName := child.childName()
		if seen[childName] {
			return nil, NewDuplicateStateError(name, childName)
		}
		seen[childName] = true
	}

	initial := o.initial
	if initial == "" {
		initial = children[0].childName()
	}
	if !seen[initial] {
		return nil, NewUnknownInitialStateError(name, initial)
	}

	t := &tree{
		instance:     uuid.NewString(),
		logger:       o.logger,
		maxRedirects: o.maxRedirects,
	}
	c := newComposite(name, context)
	m := &Machine{tree: t, id: rootID, comp: c}
	c.handle = m
	t.nodes = []*node{{id: rootID, parent: noNode, name: name, kind: kindComposite, comp: c}}

	for _, child := range children {
		t.attach(rootID, child)
	}
	c.initial = c.index[initial]

	for _, r := range o.receivers {
		c.observers.register(r.id, r.receiver, r.payload, false)
	}
	return m, nil
}

func checkChild(machine string, child Child) error {
	switch c := child.(type) {
	case nil:
		return NewConfigurationError(ErrCodeInvalidName, machine, "", "nil child")
	case *State:
		if c == nil {
			return NewConfigurationError(ErrCodeInvalidName, machine, "", "nil state")
		}
	case *Machine:
		if c == nil {
			return NewConfigurationError(ErrCodeInvalidName, machine, "", "nil machine")
		}
		if err := graftable(c); err != nil {
			return NewMachineError(ErrCodeIllegalState, machine, "construction", err.Error())
		}
	case Deferred:
		if c.factory == nil {
			return NewInvalidChildFactoryError(machine, c.name, fmt.Sprintf("deferred state '%s' has no factory", c.name), nil)
		}
	}

	if childName := child.childName(); !validName(childName) {
		return NewConfigurationError(ErrCodeInvalidName, machine, childName,
			fmt.Sprintf("invalid state name '%s'", childName))
	}
	return nil
}

func (m *Machine) childName() string { return m.comp.name }

// Name returns the machine name
func (m *Machine) Name() string {
	return m.comp.name
}

// Path returns the names from the root to this machine joined by "/"
func (m *Machine) Path() string {
	var names []string
	for c := m.comp; c != nil; c = c.parent {
		names = append(names, c.name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return JoinPath(names...)
}

// IsRoot reports whether the machine is the root of its tree
func (m *Machine) IsRoot() bool {
	return m.comp.parent == nil
}

// State returns the qualified state, e.g. "order/payment/pending". It is
// empty until the machine is started.
func (m *Machine) State() string {
	return m.comp.view.Load().state
}

// Started reports whether the machine has been entered
func (m *Machine) Started() bool {
	return m.comp.view.Load().started
}

// Terminated reports whether the active branch rests on a final state
func (m *Machine) Terminated() bool {
	return m.comp.view.Load().terminated
}

// InState reports whether the qualified state is name or lies below it
func (m *Machine) InState(name string) bool {
	state := m.State()
	return state == name || strings.HasPrefix(state, name+PathSeparator)
}

// InstanceID identifies the running tree. It is carried in snapshots.
func (m *Machine) InstanceID() string {
	return m.tree.instance
}

// Context returns the machine's context, building it on first use
func (m *Machine) Context() (Context, error) {
	return m.comp.contextValue()
}

// Target returns the machine's own name when the leaf on its active branch
// handles event. It takes the tree lock and must not be called from hooks.
func (m *Machine) Target(event string) (string, bool) {
	t := m.tree
	t.mutex.Lock()
	defer t.mutex.Unlock()

	_, leaf, ok := t.activeLeaf(m.id)
	if !ok {
		return "", false
	}
	if _, ok := t.nodes[leaf].leaf.Target(event); !ok {
		return "", false
	}
	return m.comp.name, true
}

// Lookup returns the nested machine at path, relative to m. Deferred
// children along the path are resolved.
func (m *Machine) Lookup(path string) (*Machine, error) {
	t := m.tree
	var found *Machine
	err := t.run(func() error {
		at := m.id
		for _, segment := range SplitPath(path) {
			c := t.comp(at)
			child, ok := c.index[segment]
			if !ok {
				return NewPathError(c.name, path, segment, fmt.Sprintf("no state named '%s'", segment))
			}
			if err := t.materialize(child); err != nil {
				return err
			}
			if t.nodes[child].kind != kindComposite {
				return NewPathError(c.name, path, segment, fmt.Sprintf("'%s' is not a machine", segment))
			}
			at = child
		}
		found = t.comp(at).handle
		return nil
	})
	return found, err
}

// Start enters the initial branch of the root machine. args are passed to
// the guards and entry actions of every entered state.
func (m *Machine) Start(args ...any) error {
	t := m.tree
	return t.run(func() error {
		if !m.IsRoot() {
			return NewMachineError(ErrCodeIllegalState, m.comp.name, "start", "nested machines are started by their parent")
		}
		if m.comp.started {
			return NewMachineError(ErrCodeIllegalState, m.comp.name, "start", "machine is already started")
		}

		if err := t.start(args); err != nil {
			t.logger.Debug("start rejected",
				zap.String("machine", m.comp.name),
				zap.String("instance", t.instance),
				zap.Error(err))
			return err
		}

		t.logger.Debug("machine started",
			zap.String("machine", m.comp.name),
			zap.String("instance", t.instance),
			zap.String("to", m.comp.current))
		return nil
	})
}

// Fire routes event to the active leaf and performs the transition it maps
// to. On error nothing has changed.
func (m *Machine) Fire(event string, args ...any) error {
	t := m.tree
	return t.run(func() error {
		if !m.IsRoot() {
			return NewMachineError(ErrCodeIllegalState, m.comp.name, "trigger", "events are fired on the root machine")
		}
		if !m.comp.started {
			return NewMachineError(ErrCodeNotStarted, m.comp.name, "trigger", "machine is not started")
		}
		if m.comp.terminated {
			return NewMachineError(ErrCodeTerminated, m.comp.name, "trigger", "machine has terminated")
		}

		from := m.comp.current
		if err := t.fire(event, args); err != nil {
			t.logger.Debug("trigger rejected",
				zap.String("machine", m.comp.name),
				zap.String("instance", t.instance),
				zap.String("event", event),
				zap.String("from", from),
				zap.Error(err))
			return err
		}

		t.logger.Debug("transition",
			zap.String("machine", m.comp.name),
			zap.String("instance", t.instance),
			zap.String("event", event),
			zap.String("from", from),
			zap.String("to", m.comp.current))
		return nil
	})
}

// Trigger is Fire reporting only whether the machine moved
func (m *Machine) Trigger(event string, args ...any) bool {
	return m.Fire(event, args...) == nil
}

// Signal notifies every receiver of the machine in registration order. An
// empty state means the current qualified state; a nil payload means each
// receiver's default payload.
func (m *Machine) Signal(state string, payload any) {
	t := m.tree
	_ = t.run(func() error {
		t.signal(m.comp, state, payload)
		return nil
	})
}

// Register adds or replaces the receiver stored under id
func (m *Machine) Register(id string, receiver Receiver, payload any) {
	if receiver == nil {
		return
	}
	m.comp.observers.register(id, receiver, payload, false)
}

// RegisterObserver registers observer.Receive under id
func (m *Machine) RegisterObserver(id string, observer Observer, payload any) {
	if observer == nil {
		return
	}
	m.Register(id, observer.Receive, payload)
}

// Unregister removes the receiver stored under id, if any
func (m *Machine) Unregister(id string) {
	m.comp.observers.unregister(id)
}

// Receivers lists registered receiver ids in notification order
func (m *Machine) Receivers() []string {
	return m.comp.observers.ids()
}

// signal fans out to the registry of c. Internal receivers run now, host
// receivers are queued until the tree lock is released.
func (t *tree) signal(c *composite, state string, payload any) {
	if state == "" {
		state = c.current
	}
	for _, entry := range c.observers.snapshot() {
		p := payload
		if p == nil {
			p = entry.payload
		}
		if entry.internal {
			entry.receiver(state, p)
			continue
		}
		t.outbox = append(t.outbox, delivery{id: entry.id, receiver: entry.receiver, state: state, payload: p})
	}
}

// receiveSignal rewrites the cached state from a nested machine's report
func (m *Machine) receiveSignal(state string, _ any) {
	c := m.comp
	c.current = JoinPath(c.name, state)
	c.publish()
}

// link registers the parent's internal receiver in a nested machine
func (t *tree) link(id nodeID) {
	n := t.nodes[id]
	if n.parent == noNode {
		return
	}
	parent := t.comp(n.parent)
	n.comp.observers.register(parent.name, parent.handle.receiveSignal, nil, true)
}

// unlink removes the parent's internal receiver from a nested machine
func (t *tree) unlink(id nodeID) {
	n := t.nodes[id]
	if n.parent == noNode {
		return
	}
	n.comp.observers.unregister(t.comp(n.parent).name)
}

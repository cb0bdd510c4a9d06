package hfsm

// MachineBuilder provides the main entry point for building machine trees
type MachineBuilder interface {
	State(name string) StateBuilder
	Final(name string) StateBuilder
	Machine(name string) MachineBuilder
	Defer(name string, factory func() (Child, error)) MachineBuilder
	Child(child Child) MachineBuilder

	Initial(name string) MachineBuilder
	Context(factory ContextFactory) MachineBuilder
	Fields(names ...string) MachineBuilder
	Options(opts ...Option) MachineBuilder

	// Navigation back to the enclosing machine
	End() MachineBuilder
	Build() (*Machine, error)
}

// StateBuilder handles leaf state configuration
type StateBuilder interface {
	On(event, target string) StateBuilder
	RedirectTo(target string) StateBuilder
	OnEntry(action Action) StateBuilder
	OnExit(action Action) StateBuilder
	When(guard Guard) StateBuilder
	Initial() StateBuilder

	// Siblings
	State(name string) StateBuilder
	Final(name string) StateBuilder
	Machine(name string) MachineBuilder
	Defer(name string, factory func() (Child, error)) MachineBuilder
	Child(child Child) MachineBuilder

	End() MachineBuilder
	Build() (*Machine, error)
}

type machineBuilderImpl struct {
	name     string
	parent   *machineBuilderImpl
	children []builderChild
	initial  string
	context  ContextFactory
	opts     []Option
}

// builderChild is either a ready child or a nested builder
type builderChild struct {
	child  Child
	nested *machineBuilderImpl
}

type stateBuilderImpl struct {
	machine *machineBuilderImpl
	state   *State
}

// NewBuilder starts a machine definition named name
func NewBuilder(name string) MachineBuilder {
	return &machineBuilderImpl{name: name}
}

func (mb *machineBuilderImpl) State(name string) StateBuilder {
	state := NewState(name)
	mb.children = append(mb.children, builderChild{child: state})
	return &stateBuilderImpl{machine: mb, state: state}
}

func (mb *machineBuilderImpl) Final(name string) StateBuilder {
	state := NewFinalState(name)
	mb.children = append(mb.children, builderChild{child: state})
	return &stateBuilderImpl{machine: mb, state: state}
}

func (mb *machineBuilderImpl) Machine(name string) MachineBuilder {
	nested := &machineBuilderImpl{name: name, parent: mb}
	mb.children = append(mb.children, builderChild{nested: nested})
	return nested
}

func (mb *machineBuilderImpl) Defer(name string, factory func() (Child, error)) MachineBuilder {
	mb.children = append(mb.children, builderChild{child: Defer(name, factory)})
	return mb
}

func (mb *machineBuilderImpl) Child(child Child) MachineBuilder {
	mb.children = append(mb.children, builderChild{child: child})
	return mb
}

func (mb *machineBuilderImpl) Initial(name string) MachineBuilder {
	mb.initial = name
	return mb
}

func (mb *machineBuilderImpl) Context(factory ContextFactory) MachineBuilder {
	mb.context = factory
	return mb
}

func (mb *machineBuilderImpl) Fields(names ...string) MachineBuilder {
	declared := append([]string(nil), names...)
	mb.context = func() (Context, error) {
		return NewFields(declared...), nil
	}
	return mb
}

func (mb *machineBuilderImpl) Options(opts ...Option) MachineBuilder {
	mb.opts = append(mb.opts, opts...)
	return mb
}

func (mb *machineBuilderImpl) End() MachineBuilder {
	if mb.parent == nil {
		return mb
	}
	return mb.parent
}

// Build constructs the whole tree from its root, whichever builder it is
// called on
func (mb *machineBuilderImpl) Build() (*Machine, error) {
	root := mb
	for root.parent != nil {
		root = root.parent
	}
	return root.build()
}

func (mb *machineBuilderImpl) build() (*Machine, error) {
	children := make([]Child, 0, len(mb.children))
	for _, entry := range mb.children {
		if entry.nested == nil {
			children = append(children, entry.child)
			continue
		}
		nested, err := entry.nested.build()
		if err != nil {
			return nil, err
		}
		children = append(children, nested)
	}

	opts := mb.opts
	if mb.initial != "" {
		opts = append(append([]Option(nil), opts...), WithInitial(mb.initial))
	}
	return NewMachine(mb.name, mb.context, children, opts...)
}

func (sb *stateBuilderImpl) On(event, target string) StateBuilder {
	sb.state.On(event, target)
	return sb
}

func (sb *stateBuilderImpl) RedirectTo(target string) StateBuilder {
	sb.state.RedirectTo(target)
	return sb
}

func (sb *stateBuilderImpl) OnEntry(action Action) StateBuilder {
	sb.state.OnEntry(action)
	return sb
}

func (sb *stateBuilderImpl) OnExit(action Action) StateBuilder {
	sb.state.OnExit(action)
	return sb
}

func (sb *stateBuilderImpl) When(guard Guard) StateBuilder {
	sb.state.WithGuard(guard)
	return sb
}

func (sb *stateBuilderImpl) Initial() StateBuilder {
	sb.machine.initial = sb.state.name
	return sb
}

func (sb *stateBuilderImpl) State(name string) StateBuilder {
	return sb.machine.State(name)
}

func (sb *stateBuilderImpl) Final(name string) StateBuilder {
	return sb.machine.Final(name)
}

func (sb *stateBuilderImpl) Machine(name string) MachineBuilder {
	return sb.machine.Machine(name)
}

func (sb *stateBuilderImpl) Defer(name string, factory func() (Child, error)) MachineBuilder {
	return sb.machine.Defer(name, factory)
}

func (sb *stateBuilderImpl) Child(child Child) MachineBuilder {
	return sb.machine.Child(child)
}

func (sb *stateBuilderImpl) End() MachineBuilder {
	return sb.machine.End()
}

func (sb *stateBuilderImpl) Build() (*Machine, error) {
	return sb.machine.Build()
}

package definition

import (
	"fmt"

	"github.com/anggasct/hfsm"
)

// Registry holds the hooks a definition may reference by name
type Registry struct {
	Actions  map[string]hfsm.Action
	Guards   map[string]hfsm.Guard
	Contexts map[string]hfsm.ContextFactory
}

// Compile builds the machine tree described by def. opts apply to the root.
func Compile(def *Definition, reg Registry, opts ...hfsm.Option) (*hfsm.Machine, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	// Resolve every hook up front so deferred machines cannot fail on a name
	if err := reg.check(def, def.Name); err != nil {
		return nil, err
	}
	return reg.machine(def, def.Name, opts)
}

// Load parses and compiles a YAML document
func Load(data []byte, reg Registry, opts ...hfsm.Option) (*hfsm.Machine, error) {
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Compile(def, reg, opts...)
}

func (r Registry) machine(def *Definition, name string, opts []hfsm.Option) (*hfsm.Machine, error) {
	builder := hfsm.NewBuilder(name).Options(opts...)
	if def.Initial != "" {
		builder.Initial(def.Initial)
	}
	if len(def.Fields) > 0 {
		builder.Fields(def.Fields...)
	}
	if def.Context != "" {
		builder.Context(r.Contexts[def.Context])
	}

	for _, state := range def.States {
		switch {
		case state.Machine != nil && state.Deferred:
			nested := state.Machine
			childName := state.Name
			builder.Defer(childName, func() (hfsm.Child, error) {
				return r.machine(nested, childName, nil)
			})
		case state.Machine != nil:
			nested, err := r.machine(state.Machine, state.Name, nil)
			if err != nil {
				return nil, err
			}
			builder.Child(nested)
		default:
			builder.Child(r.state(state))
		}
	}
	return builder.Build()
}

func (r Registry) state(def State) *hfsm.State {
	state := hfsm.NewState(def.Name)
	if def.Final {
		state = hfsm.NewFinalState(def.Name)
	}
	for event, target := range def.On {
		state.On(event, target)
	}
	if def.Redirect != "" {
		state.RedirectTo(def.Redirect)
	}
	if def.Guard != "" {
		state.WithGuard(r.Guards[def.Guard])
	}
	if def.Entry != "" {
		state.OnEntry(r.Actions[def.Entry])
	}
	if def.Exit != "" {
		state.OnExit(r.Actions[def.Exit])
	}
	return state
}

func (r Registry) check(def *Definition, path string) error {
	if def.Context != "" {
		if _, ok := r.Contexts[def.Context]; !ok {
			return fmt.Errorf("%w: context '%s' of machine '%s'", ErrUnknownHook, def.Context, path)
		}
	}
	for _, state := range def.States {
		statePath := path + "/" + state.Name
		if state.Machine != nil {
			if err := r.check(state.Machine, statePath); err != nil {
				return err
			}
			continue
		}
		if state.Guard != "" {
			if _, ok := r.Guards[state.Guard]; !ok {
				return fmt.Errorf("%w: guard '%s' of state '%s'", ErrUnknownHook, state.Guard, statePath)
			}
		}
		for _, action := range []string{state.Entry, state.Exit} {
			if action == "" {
				continue
			}
			if _, ok := r.Actions[action]; !ok {
				return fmt.Errorf("%w: action '%s' of state '%s'", ErrUnknownHook, action, statePath)
			}
		}
	}
	return nil
}

package hfsm

import (
	"fmt"
	"sort"
	"strings"
)

// Guard decides whether a transition into the owning state may complete.
// Returning false is a normal outcome, not an error.
type Guard func(ctx Context, args ...any) bool

// Action runs on entry to or exit from a state. m is the machine that
// directly contains the state.
type Action func(m *Machine, ctx Context, args ...any)

// Child is a node that can be placed inside a machine: a *State, a nested
// *Machine, or a Deferred factory.
type Child interface {
	childName() string
}

// State is a leaf of the machine tree
type State struct {
	name        string
	entryAction Action
	exitAction  Action
	guard       Guard
	events      map[string]string
	redirect    string
	final       bool
}

// NewState creates a new leaf state
func NewState(name string) *State {
	return &State{
		name:   name,
		events: make(map[string]string),
	}
}

// NewFinalState creates a terminal leaf. It has no outgoing events and can
// always be entered.
func NewFinalState(name string) *State {
	return &State{
		name:   name,
		events: make(map[string]string),
		final:  true,
	}
}

func (s *State) childName() string { return s.name }

// Name returns the state name
func (s *State) Name() string {
	return s.name
}

// On maps an event to a target path
func (s *State) On(event, target string) *State {
	if !s.final {
		s.events[event] = target
	}
	return s
}

// OnEntry sets the entry action for the state
func (s *State) OnEntry(action Action) *State {
	s.entryAction = action
	return s
}

// OnExit sets the exit action for the state
func (s *State) OnExit(action Action) *State {
	s.exitAction = action
	return s
}

// WithGuard sets the guard evaluated when the state is entered
func (s *State) WithGuard(guard Guard) *State {
	if !s.final {
		s.guard = guard
	}
	return s
}

// RedirectTo makes the state a pass-through: once entered, the machine moves
// on to target without waiting for an event.
func (s *State) RedirectTo(target string) *State {
	if !s.final {
		s.redirect = target
	}
	return s
}

// Target returns the target path mapped to event
func (s *State) Target(event string) (string, bool) {
	if s.final {
		return "", false
	}
	target, ok := s.events[event]
	return target, ok
}

// Redirect returns the fixed redirect target, if any
func (s *State) Redirect() (string, bool) {
	return s.redirect, s.redirect != ""
}

// Events returns a copy of the event map
func (s *State) Events() map[string]string {
	result := make(map[string]string, len(s.events))
	for k, v := range s.events {
		result[k] = v
	}
	return result
}

// IsFinal reports whether entering the state ends its branch
func (s *State) IsFinal() bool {
	return s.final || (s.redirect == "" && len(s.events) == 0)
}

// admits evaluates the guard, treating a panic as a rejection
func (s *State) admits(ctx Context, args []any) (ok bool, err error) {
	if s.final || s.guard == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("guard panic in state '%s': %v", s.name, r)
		}
	}()
	return s.guard(ctx, args...), nil
}

func (s *State) enter(m *Machine, ctx Context, args []any) error {
	return safeExecuteAction(s.entryAction, m, ctx, args)
}

func (s *State) leave(m *Machine, ctx Context, args []any) error {
	return safeExecuteAction(s.exitAction, m, ctx, args)
}

// signature describes the state for topology fingerprints
func (s *State) signature() string {
	keys := make([]string, 0, len(s.events))
	for k := range s.events {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.events[k])
		b.WriteByte(';')
	}
	fmt.Fprintf(&b, "redirect=%s;final=%t", s.redirect, s.final)
	return b.String()
}

// Deferred is a child whose node is built on first access and memoized
type Deferred struct {
	name    string
	factory func() (Child, error)
}

// Defer declares a child named name whose node is produced by factory the
// first time the machine reaches it. The factory must return a *State or
// *Machine carrying the same name.
func Defer(name string, factory func() (Child, error)) Deferred {
	return Deferred{name: name, factory: factory}
}

func (d Deferred) childName() string { return d.name }

// safeExecuteAction executes an action with panic recovery
func safeExecuteAction(action Action, m *Machine, ctx Context, args []any) (err error) {
	if action == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()

	action(m, ctx, args...)
	return nil
}

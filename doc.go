// Package hfsm provides an embeddable hierarchical finite state machine
// engine. A machine is a named group of child states, any of which may be a
// nested machine, and exactly one child is active once it is started. Events
// are routed to the leaf at the end of the active branch, whose transition
// table names a target path:
//
//	"shown"          sibling of the active leaf
//	"nested/applied" descend into a nested machine
//	"/leased"        absolute, resolved from the root
//
// Every successful transition recomputes the qualified state, for example
// "booking/nested/applied", and notifies the receivers registered on each
// machine whose qualified state changed.
//
//	m, err := hfsm.NewBuilder("door").
//		State("closed").On("open", "opened").
//		State("opened").On("close", "closed").
//		Build()
//	if err != nil {
//		return err
//	}
//	_ = m.Start()
//	m.Trigger("open") // m.State() == "door/opened"
package hfsm

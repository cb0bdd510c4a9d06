package hfsm

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// notification is one receiver call captured by a recorder
type notification struct {
	ID      string
	State   string
	Payload any
}

// recorder captures receiver calls in order
type recorder struct {
	mutex sync.Mutex
	notes []notification
}

func newRecorder() *recorder {
	return &recorder{notes: make([]notification, 0)}
}

func (r *recorder) receiver(id string) Receiver {
	return func(state string, payload any) {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		r.notes = append(r.notes, notification{ID: id, State: state, Payload: payload})
	}
}

func (r *recorder) all() []notification {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]notification(nil), r.notes...)
}

func (r *recorder) states() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	states := make([]string, len(r.notes))
	for i, n := range r.notes {
		states[i] = n.State
	}
	return states
}

func (r *recorder) reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.notes = r.notes[:0]
}

// journal records hook invocations as "enter x" / "exit x"
type journal struct {
	mutex   sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) enter(name string) Action {
	return func(_ *Machine, _ Context, _ ...any) {
		j.add("enter %s", name)
	}
}

func (j *journal) exit(name string) Action {
	return func(_ *Machine, _ Context, _ ...any) {
		j.add("exit %s", name)
	}
}

func (j *journal) all() []string {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) reset() {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.entries = nil
}

// booking is the reference tree used across tests:
//
//	test-machine
//	├── initial       book→booked, show→shown
//	├── booked        show→shown, apply→nested/applied, lease→leased
//	├── shown         apply→nested/applied, lease→leased
//	├── nested
//	│   ├── second-nested
//	│   │   └── nested-state  test→/nested/applied
//	│   └── applied   lease→/leased
//	└── leased        final
type booking struct {
	root    *Machine
	nested  *Machine
	second  *Machine
	journal *journal
}

func newBooking(t *testing.T, opts ...Option) *booking {
	t.Helper()
	b, err := buildBooking(opts...)
	require.NoError(t, err)
	return b
}

func buildBooking(opts ...Option) (*booking, error) {
	j := &journal{}
	leaf := func(name string) *State {
		return NewState(name).OnEntry(j.enter(name)).OnExit(j.exit(name))
	}

	second, err := NewMachine("second-nested", nil, []Child{
		leaf("nested-state").On("test", "/nested/applied"),
	})
	if err != nil {
		return nil, err
	}

	nested, err := NewMachine("nested", nil, []Child{
		second,
		leaf("applied").On("lease", "/leased"),
	})
	if err != nil {
		return nil, err
	}

	root, err := NewMachine("test-machine", Static(NewFields("booked", "count")), []Child{
		leaf("initial").On("book", "booked").On("show", "shown"),
		leaf("booked").
			On("show", "shown").
			On("apply", "nested/applied").
			On("lease", "leased"),
		leaf("shown").
			On("apply", "nested/applied").
			On("lease", "leased"),
		nested,
		NewFinalState("leased").OnEntry(j.enter("leased")),
	}, opts...)
	if err != nil {
		return nil, err
	}

	return &booking{root: root, nested: nested, second: second, journal: j}, nil
}

// assertState checks the qualified state of m
func assertState(t *testing.T, m *Machine, want string) {
	t.Helper()
	assert.Equal(t, want, m.State(), "qualified state of %s", m.Name())
}

// mustMachine builds a machine or fails the test
func mustMachine(t *testing.T, name string, children []Child, opts ...Option) *Machine {
	t.Helper()
	m, err := NewMachine(name, nil, children, opts...)
	require.NoError(t, err)
	return m
}

package hfsm

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Receiver is notified with the qualified state of the machine it is
// registered on, and with either the payload passed to Signal or the default
// payload given at registration.
type Receiver func(state string, payload any)

// Observer is implemented by types that want to be registered as receivers
type Observer interface {
	Receive(state string, payload any)
}

type registration struct {
	id       string
	receiver Receiver
	payload  any
	internal bool
}

// delivery is one queued host notification
type delivery struct {
	id       string
	receiver Receiver
	state    string
	payload  any
}

// registry keeps receivers in registration order, at most one per id
type registry struct {
	mutex   sync.Mutex
	entries []registration
}

func newRegistry() *registry {
	return &registry{
		entries: make([]registration, 0),
	}
}

// register adds a receiver. Registering an existing id replaces it in place.
func (r *registry) register(id string, receiver Receiver, payload any, internal bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entry := registration{id: id, receiver: receiver, payload: payload, internal: internal}
	for i := range r.entries {
		if r.entries[i].id == id {
			r.entries[i] = entry
			return
		}
	}
	r.entries = append(r.entries, entry)
}

func (r *registry) unregister(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i := range r.entries {
		if r.entries[i].id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *registry) has(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, entry := range r.entries {
		if entry.id == id {
			return true
		}
	}
	return false
}

// snapshot copies the entries so receivers may mutate the registry while a
// fan-out is in progress
func (r *registry) snapshot() []registration {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entries := make([]registration, len(r.entries))
	copy(entries, r.entries)
	return entries
}

func (r *registry) ids() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ids := make([]string, len(r.entries))
	for i, entry := range r.entries {
		ids[i] = entry.id
	}
	return ids
}

// deliver invokes queued receivers in order. A panicking receiver is logged
// and does not stop the remaining deliveries.
func deliver(deliveries []delivery, logger *zap.Logger) {
	for _, d := range deliveries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("receiver panicked",
						zap.String("receiver", d.id),
						zap.String("state", d.state),
						zap.Error(fmt.Errorf("%v", r)))
				}
			}()
			d.receiver(d.state, d.payload)
		}()
	}
}

package hfsm

import (
	"sort"
	"sync"
)

// Context is the mutable field store scoped to one machine. Every guard and
// action invoked inside that machine receives the same Context.
type Context interface {
	Get(name string) (any, bool)
	Set(name string, value any) error
	SetMultiple(values map[string]any) error
	Values() map[string]any
}

// ContextFactory produces the context of a machine. It is called at most once,
// the first time the machine needs its context.
type ContextFactory func() (Context, error)

// Static wraps a ready context as a factory
func Static(ctx Context) ContextFactory {
	return func() (Context, error) {
		return ctx, nil
	}
}

// Fields implements Context with a fixed set of declared field names
type Fields struct {
	mutex    sync.RWMutex
	declared map[string]struct{}
	values   map[string]any
}

// NewFields creates a context accepting only the given field names
func NewFields(names ...string) *Fields {
	f := &Fields{
		declared: make(map[string]struct{}, len(names)),
		values:   make(map[string]any, len(names)),
	}
	for _, name := range names {
		f.declared[name] = struct{}{}
	}
	return f
}

// Declared returns the declared field names in sorted order
func (f *Fields) Declared() []string {
	names := make([]string, 0, len(f.declared))
	for name := range f.declared {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get retrieves a field value
func (f *Fields) Get(name string) (any, bool) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	value, exists := f.values[name]
	return value, exists
}

// Set stores a value in a declared field
func (f *Fields) Set(name string, value any) error {
	if _, ok := f.declared[name]; !ok {
		return &PropertyError{Field: name}
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.values[name] = value
	return nil
}

// SetMultiple validates every key before applying any of them
func (f *Fields) SetMultiple(values map[string]any) error {
	for name := range values {
		if _, ok := f.declared[name]; !ok {
			return &PropertyError{Field: name}
		}
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	for name, value := range values {
		f.values[name] = value
	}
	return nil
}

// Values returns a copy of all fields that have been set
func (f *Fields) Values() map[string]any {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	result := make(map[string]any, len(f.values))
	for k, v := range f.values {
		result[k] = v
	}
	return result
}

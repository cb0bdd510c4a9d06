package observers

import (
	"fmt"
	"sort"
	"sync"
)

// ValidationObserver checks reported states against allowed moves
type ValidationObserver struct {
	expectedStates     map[string]bool
	visitedStates      map[string]bool
	allowedTransitions map[string]map[string]bool
	violations         []string
	last               string
	mutex              sync.RWMutex
}

// NewValidationObserver creates a new validation observer
func NewValidationObserver() *ValidationObserver {
	return &ValidationObserver{
		expectedStates:     make(map[string]bool),
		visitedStates:      make(map[string]bool),
		allowedTransitions: make(map[string]map[string]bool),
		violations:         make([]string, 0),
	}
}

// AddExpectedState adds a qualified state that should be visited
func (o *ValidationObserver) AddExpectedState(state string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.expectedStates[state] = true
}

// AddAllowedTransition allows a move between two qualified states. Moves out
// of a state with no allowed transitions are not checked.
func (o *ValidationObserver) AddAllowedTransition(from, to string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if _, exists := o.allowedTransitions[from]; !exists {
		o.allowedTransitions[from] = make(map[string]bool)
	}
	o.allowedTransitions[from][to] = true
}

// Receive validates the move from the previously reported state
func (o *ValidationObserver) Receive(state string, _ any) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visitedStates[state] = true
	if allowed, exists := o.allowedTransitions[o.last]; exists && !allowed[state] {
		o.violations = append(o.violations, fmt.Sprintf(
			"Invalid transition from '%s' to '%s'", o.last, state))
	}
	o.last = state
}

// GetViolations returns all validation violations
func (o *ValidationObserver) GetViolations() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make([]string, len(o.violations))
	copy(result, o.violations)
	return result
}

// GetUnvisitedStates returns expected states that were never reported, sorted
func (o *ValidationObserver) GetUnvisitedStates() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	var unvisited []string
	for state := range o.expectedStates {
		if !o.visitedStates[state] {
			unvisited = append(unvisited, state)
		}
	}
	sort.Strings(unvisited)
	return unvisited
}

// HasViolations returns whether any violations occurred
func (o *ValidationObserver) HasViolations() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.violations) > 0
}

// Reset resets the validation state
func (o *ValidationObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visitedStates = make(map[string]bool)
	o.violations = make([]string, 0)
	o.last = ""
}

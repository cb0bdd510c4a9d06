package hfsm

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the state machine
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// Two children of one machine share a name
	ErrCodeDuplicateState
	// Explicit initial state is not among the children
	ErrCodeUnknownInitialState
	// Deferred child factory produced something that is not a usable node
	ErrCodeInvalidChildFactory
	// State or machine name is empty or contains a path separator
	ErrCodeInvalidName
	// Path segment could not be resolved
	ErrCodeInvalidStatePath
	// Context field is not declared
	ErrCodeInvalidProperty
	// Snapshot could not be decoded or does not match the topology
	ErrCodeDeserializationFailure
	// Operation is not allowed in the current lifecycle phase
	ErrCodeIllegalState
	// Machine has not been started
	ErrCodeNotStarted
	// Machine has reached a final state
	ErrCodeTerminated
	// Active leaf has no transition for the event
	ErrCodeNoTransition
	// Guard rejected the transition
	ErrCodeGuardRejected
	// Redirect chain did not come to rest
	ErrCodeRedirectLoop
)

var (
	ErrDuplicateState      = errors.New("duplicate state")
	ErrUnknownInitialState = errors.New("unknown initial state")
	ErrInvalidChildFactory = errors.New("invalid child factory")
	ErrInvalidName         = errors.New("invalid state name")
	ErrInvalidStatePath    = errors.New("invalid state path")
	ErrInvalidProperty     = errors.New("invalid property")
	ErrDeserialization     = errors.New("snapshot deserialization failed")
	ErrIllegalState        = errors.New("illegal machine state")
	ErrNotStarted          = errors.New("machine is not started")
	ErrTerminated          = errors.New("machine has terminated")
	ErrNoTransition        = errors.New("no transition for event")
	ErrGuardRejected       = errors.New("guard rejected transition")
	ErrRedirectLoop        = errors.New("redirect chain too long")
)

var sentinels = map[ErrorCode]error{
	ErrCodeDuplicateState:         ErrDuplicateState,
	ErrCodeUnknownInitialState:    ErrUnknownInitialState,
	ErrCodeInvalidChildFactory:    ErrInvalidChildFactory,
	ErrCodeInvalidName:            ErrInvalidName,
	ErrCodeInvalidStatePath:       ErrInvalidStatePath,
	ErrCodeInvalidProperty:        ErrInvalidProperty,
	ErrCodeDeserializationFailure: ErrDeserialization,
	ErrCodeIllegalState:           ErrIllegalState,
	ErrCodeNotStarted:             ErrNotStarted,
	ErrCodeTerminated:             ErrTerminated,
	ErrCodeNoTransition:           ErrNoTransition,
	ErrCodeGuardRejected:          ErrGuardRejected,
	ErrCodeRedirectLoop:           ErrRedirectLoop,
}

func (c ErrorCode) is(target error) bool {
	s, ok := sentinels[c]
	return ok && s == target
}

// ConfigurationError represents topology problems found while building a machine
type ConfigurationError struct {
	Code    ErrorCode
	Machine string
	State   string
	Issue   string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error in machine '%s': %s", e.Machine, e.Issue)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Is(target error) bool { return e.Code.is(target) }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewDuplicateStateError creates an error for a repeated sibling name
func NewDuplicateStateError(machine, state string) *ConfigurationError {
	return &ConfigurationError{
		Code:    ErrCodeDuplicateState,
		Machine: machine,
		State:   state,
		Issue:   fmt.Sprintf("duplicate state name '%s'", state),
	}
}

// NewUnknownInitialStateError creates an error for a start name that is not a child
func NewUnknownInitialStateError(machine, state string) *ConfigurationError {
	return &ConfigurationError{
		Code:    ErrCodeUnknownInitialState,
		Machine: machine,
		State:   state,
		Issue:   fmt.Sprintf("initial state '%s' does not exist", state),
	}
}

// NewInvalidChildFactoryError creates an error for a deferred child that could not be resolved
func NewInvalidChildFactoryError(machine, state, issue string, err error) *ConfigurationError {
	return &ConfigurationError{
		Code:    ErrCodeInvalidChildFactory,
		Machine: machine,
		State:   state,
		Issue:   issue,
		Err:     err,
	}
}

// NewConfigurationError creates a configuration error with a custom code
func NewConfigurationError(code ErrorCode, machine, state, issue string) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Machine: machine,
		State:   state,
		Issue:   issue,
	}
}

// PathError reports a transition target that could not be resolved
type PathError struct {
	Machine string
	Path    string
	Segment string
	Reason  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid state path '%s' in machine '%s': %s", e.Path, e.Machine, e.Reason)
}

func (e *PathError) Is(target error) bool { return ErrCodeInvalidStatePath.is(target) }

// NewPathError creates a new path resolution error
func NewPathError(machine, path, segment, reason string) *PathError {
	return &PathError{
		Machine: machine,
		Path:    path,
		Segment: segment,
		Reason:  reason,
	}
}

// PropertyError reports a write to an undeclared context field
type PropertyError struct {
	Field string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("trying to set invalid property '%s'", e.Field)
}

func (e *PropertyError) Is(target error) bool { return ErrCodeInvalidProperty.is(target) }

// SnapshotError reports a snapshot that cannot be restored
type SnapshotError struct {
	Reason string
	Err    error
}

func (e *SnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot rejected: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("snapshot rejected: %s", e.Reason)
}

func (e *SnapshotError) Is(target error) bool { return ErrCodeDeserializationFailure.is(target) }

func (e *SnapshotError) Unwrap() error { return e.Err }

func snapshotErrorf(err error, format string, args ...any) *SnapshotError {
	return &SnapshotError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// MachineError represents lifecycle violations on a machine
type MachineError struct {
	Code      ErrorCode
	Machine   string
	Operation string
	Message   string
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("machine '%s' error during %s: %s", e.Machine, e.Operation, e.Message)
}

func (e *MachineError) Is(target error) bool { return e.Code.is(target) }

// NewMachineError creates a new machine error
func NewMachineError(code ErrorCode, machine, operation, message string) *MachineError {
	return &MachineError{
		Code:      code,
		Machine:   machine,
		Operation: operation,
		Message:   message,
	}
}

// TransitionError represents a trigger that did not move the machine
type TransitionError struct {
	Code   ErrorCode
	From   string
	Event  string
	Target string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("transition error [%s -> %s on %s]: %s", e.From, e.Target, e.Event, e.Reason)
	}
	return fmt.Sprintf("transition error [%s on %s]: %s", e.From, e.Event, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return e.Code.is(target) }

// NewNoTransitionError creates an error for an event the active leaf does not handle
func NewNoTransitionError(from, event string) *TransitionError {
	return &TransitionError{
		Code:   ErrCodeNoTransition,
		From:   from,
		Event:  event,
		Reason: fmt.Sprintf("no transition found from state '%s' for event '%s'", from, event),
	}
}

// NewGuardRejectedError creates an error for a guard that refused entry
func NewGuardRejectedError(from, target, event string) *TransitionError {
	return &TransitionError{
		Code:   ErrCodeGuardRejected,
		From:   from,
		Target: target,
		Event:  event,
		Reason: "guard rejected transition",
	}
}

// NewRedirectLoopError creates an error for a redirect chain exceeding the bound
func NewRedirectLoopError(from, event string, limit int) *TransitionError {
	return &TransitionError{
		Code:   ErrCodeRedirectLoop,
		From:   from,
		Event:  event,
		Reason: fmt.Sprintf("redirect chain exceeded %d hops", limit),
	}
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsPathError checks if an error is a PathError
func IsPathError(err error) bool {
	var e *PathError
	return errors.As(err, &e)
}

// IsPropertyError checks if an error is a PropertyError
func IsPropertyError(err error) bool {
	var e *PropertyError
	return errors.As(err, &e)
}

// IsSnapshotError checks if an error is a SnapshotError
func IsSnapshotError(err error) bool {
	var e *SnapshotError
	return errors.As(err, &e)
}

// IsMachineError checks if an error is a MachineError
func IsMachineError(err error) bool {
	var e *MachineError
	return errors.As(err, &e)
}

// IsTransitionError checks if an error is a TransitionError
func IsTransitionError(err error) bool {
	var e *TransitionError
	return errors.As(err, &e)
}

// GetErrorCode returns the error code for known error types, looking through
// wrapping until the outermost engine error is found
func GetErrorCode(err error) ErrorCode {
	for err != nil {
		switch e := err.(type) {
		case *ConfigurationError:
			return e.Code
		case *PathError:
			return ErrCodeInvalidStatePath
		case *PropertyError:
			return ErrCodeInvalidProperty
		case *SnapshotError:
			return ErrCodeDeserializationFailure
		case *MachineError:
			return e.Code
		case *TransitionError:
			return e.Code
		}
		err = errors.Unwrap(err)
	}
	return ErrCodeNone
}

// Package definition loads hfsm machine trees from YAML documents.
//
// A document describes the root machine; hooks are referenced by name and
// resolved against a Registry when the definition is compiled:
//
//	name: door
//	fields: [locked]
//	states:
//	  - name: closed
//	    on: {open: opened}
//	  - name: opened
//	    entry: logOpen
//	    on: {close: closed}
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidDefinition marks documents that cannot describe a machine
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrUnknownHook marks references to names missing from the registry
	ErrUnknownHook = errors.New("unknown hook")
)

// Definition describes one machine and its children
type Definition struct {
	Name    string   `yaml:"name"`
	Initial string   `yaml:"initial,omitempty"`
	Fields  []string `yaml:"fields,omitempty"`
	Context string   `yaml:"context,omitempty"`
	States  []State  `yaml:"states"`
}

// State describes a child of a machine. A state with a Machine block is a
// nested machine; the block's own name may be left empty.
type State struct {
	Name     string            `yaml:"name"`
	Final    bool              `yaml:"final,omitempty"`
	On       map[string]string `yaml:"on,omitempty"`
	Redirect string            `yaml:"redirect,omitempty"`
	Guard    string            `yaml:"guard,omitempty"`
	Entry    string            `yaml:"entry,omitempty"`
	Exit     string            `yaml:"exit,omitempty"`
	Machine  *Definition       `yaml:"machine,omitempty"`
	Deferred bool              `yaml:"deferred,omitempty"`
}

// Parse decodes a single YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: expected a single document", ErrInvalidDefinition)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structure of the definition. Names, duplicates and
// targets are left to the engine.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: machine name is required", ErrInvalidDefinition)
	}
	return d.validate(d.Name)
}

func (d *Definition) validate(path string) error {
	if len(d.States) == 0 {
		return fmt.Errorf("%w: machine '%s' has no states", ErrInvalidDefinition, path)
	}
	if d.Context != "" && len(d.Fields) > 0 {
		return fmt.Errorf("%w: machine '%s' sets both context and fields", ErrInvalidDefinition, path)
	}

	for _, state := range d.States {
		statePath := path + "/" + state.Name
		if state.Machine == nil {
			if state.Deferred {
				return fmt.Errorf("%w: '%s' is deferred but has no machine block", ErrInvalidDefinition, statePath)
			}
			continue
		}

		if state.Final || len(state.On) > 0 || state.Redirect != "" ||
			state.Guard != "" || state.Entry != "" || state.Exit != "" {
			return fmt.Errorf("%w: machine '%s' cannot carry state settings", ErrInvalidDefinition, statePath)
		}
		if state.Machine.Name != "" && state.Machine.Name != state.Name {
			return fmt.Errorf("%w: machine block '%s' does not match state '%s'",
				ErrInvalidDefinition, state.Machine.Name, statePath)
		}
		if err := state.Machine.validate(statePath); err != nil {
			return err
		}
	}
	return nil
}

package hfsm

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotVersion is the schema version written by Snapshot
const SnapshotVersion = 1

// Snapshot is the persisted form of a running machine tree. Hooks and
// receivers are never part of it.
type Snapshot struct {
	Version  int             `json:"version"`
	Instance string          `json:"instance"`
	Machine  string          `json:"machine"`
	Topology string          `json:"topology"`
	State    string          `json:"state"`
	Machines []MachineRecord `json:"machines"`
}

// MachineRecord is the runtime of one machine node
type MachineRecord struct {
	Path       string         `json:"path"`
	Started    bool           `json:"started"`
	Terminated bool           `json:"terminated"`
	Active     string         `json:"active,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// PersistFunc stores a snapshot produced for the machine called name
type PersistFunc func(name string, snapshot []byte) error

// BuildFunc constructs a fresh, unstarted machine with the topology the
// snapshot was taken from
type BuildFunc func() (*Machine, error)

// Snapshot encodes the current runtime of the root machine as JSON
func (m *Machine) Snapshot() ([]byte, error) {
	t := m.tree
	var data []byte
	err := t.run(func() error {
		if !m.IsRoot() {
			return NewMachineError(ErrCodeIllegalState, m.comp.name, "persist", "only the root machine can be persisted")
		}
		if err := t.materializeAll(); err != nil {
			return err
		}

		snap := Snapshot{
			Version:  SnapshotVersion,
			Instance: t.instance,
			Machine:  m.comp.name,
			Topology: t.fingerprint(),
			State:    m.comp.current,
		}
		for _, id := range t.composites() {
			c := t.comp(id)
			record := MachineRecord{
				Path:       t.path(id),
				Started:    c.started,
				Terminated: c.terminated,
			}
			if c.started {
				record.Active = t.nodes[c.active].name
			}
			if ctx := c.builtContext(); ctx != nil {
				if values := ctx.Values(); len(values) > 0 {
					record.Context = values
				}
			}
			snap.Machines = append(snap.Machines, record)
		}

		var err error
		data, err = json.Marshal(snap)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Persist hands the snapshot of the machine to handler
func (m *Machine) Persist(handler PersistFunc) error {
	data, err := m.Snapshot()
	if err != nil {
		return err
	}
	return handler(m.Name(), data)
}

// Hydrate restores a machine from data. build must return a new unstarted
// machine with the same topology; it is discarded if the snapshot does not
// fit. No hooks run and no receivers are notified. Receivers other than the
// ones build registers must be registered again by the caller.
func Hydrate(data []byte, build BuildFunc) (*Machine, error) {
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, snapshotErrorf(err, "malformed snapshot")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, snapshotErrorf(nil, "trailing data after snapshot")
	}

	if snap.Version != SnapshotVersion {
		return nil, snapshotErrorf(nil, "unsupported version %d", snap.Version)
	}
	if _, err := uuid.Parse(snap.Instance); err != nil {
		return nil, snapshotErrorf(err, "invalid instance id")
	}
	if build == nil {
		return nil, snapshotErrorf(nil, "no build function")
	}

	m, err := build()
	if err != nil {
		return nil, snapshotErrorf(err, "building machine")
	}
	if m == nil {
		return nil, snapshotErrorf(nil, "build function returned nil")
	}

	t := m.tree
	if err := t.run(func() error { return t.restore(m, &snap) }); err != nil {
		return nil, err
	}

	t.logger.Debug("machine restored",
		zap.String("machine", m.comp.name),
		zap.String("instance", t.instance),
		zap.String("state", m.comp.current))
	return m, nil
}

func (t *tree) restore(m *Machine, snap *Snapshot) error {
	if !m.IsRoot() {
		return snapshotErrorf(nil, "machine '%s' is nested", m.comp.name)
	}
	if m.comp.started {
		return snapshotErrorf(nil, "machine '%s' is already started", m.comp.name)
	}
	if m.comp.name != snap.Machine {
		return snapshotErrorf(nil, "snapshot is for machine '%s', got '%s'", snap.Machine, m.comp.name)
	}
	if err := t.materializeAll(); err != nil {
		return snapshotErrorf(err, "resolving deferred states")
	}
	if fp := t.fingerprint(); fp != snap.Topology {
		return snapshotErrorf(nil, "topology fingerprint mismatch: snapshot %s, machine %s", snap.Topology, fp)
	}

	records := make(map[string]MachineRecord, len(snap.Machines))
	for _, record := range snap.Machines {
		if _, dup := records[record.Path]; dup {
			return snapshotErrorf(nil, "duplicate record for '%s'", record.Path)
		}
		records[record.Path] = record
	}

	ids := t.composites()
	if len(records) != len(ids) {
		return snapshotErrorf(nil, "snapshot has %d machine records, topology has %d", len(records), len(ids))
	}

	active := make(map[nodeID]nodeID, len(ids))
	for _, id := range ids {
		path := t.path(id)
		record, ok := records[path]
		if !ok {
			return snapshotErrorf(nil, "missing record for '%s'", path)
		}
		if !record.Started {
			if record.Active != "" || record.Terminated {
				return snapshotErrorf(nil, "machine '%s' is not started but has runtime", path)
			}
			continue
		}
		if parent := t.nodes[id].parent; parent != noNode && !records[t.path(parent)].Started {
			return snapshotErrorf(nil, "machine '%s' is started inside an unstarted machine", path)
		}
		child, ok := t.comp(id).index[record.Active]
		if !ok {
			return snapshotErrorf(nil, "machine '%s' has no state '%s'", path, record.Active)
		}
		active[id] = child
	}

	for _, id := range ids {
		record := records[t.path(id)]
		c := t.comp(id)
		c.started = record.Started
		c.terminated = record.Terminated
		if child, ok := active[id]; ok {
			c.active = child
		}
	}

	// Qualified names are rebuilt from the leaves up.
	order := append([]nodeID(nil), ids...)
	t.byDepth(order)
	for _, id := range order {
		c := t.comp(id)
		if !c.started {
			continue
		}
		if t.terminal(c.active) != c.terminated {
			return snapshotErrorf(nil, "machine '%s' termination does not match its active state", t.path(id))
		}
		if t.nodes[c.active].kind == kindComposite && !t.comp(c.active).started {
			return snapshotErrorf(nil, "machine '%s' is active but not started", t.path(c.active))
		}
		c.current = JoinPath(c.name, t.childState(c.active))
	}
	if m.comp.current != snap.State {
		return snapshotErrorf(nil, "state '%s' does not match recomputed state '%s'", snap.State, m.comp.current)
	}

	for _, id := range ids {
		record := records[t.path(id)]
		if len(record.Context) == 0 {
			continue
		}
		ctx, err := t.comp(id).contextValue()
		if err != nil {
			return snapshotErrorf(err, "building context of '%s'", record.Path)
		}
		if err := ctx.SetMultiple(record.Context); err != nil {
			return snapshotErrorf(err, "restoring context of '%s'", record.Path)
		}
	}

	for _, id := range ids {
		c := t.comp(id)
		if id != rootID && c.started && !c.terminated {
			t.link(id)
		}
		c.publish()
	}
	t.instance = snap.Instance
	return nil
}

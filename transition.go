package hfsm

import (
	"fmt"

	"go.uber.org/zap"
)

// step makes child the active child of machine
type step struct {
	machine nodeID
	child   nodeID
}

// hop is one resting attempt: the steps from the top-most machine whose
// active child changes down to a leaf
type hop struct {
	steps []step
	leaf  nodeID
}

func (h hop) owner() nodeID {
	return h.steps[len(h.steps)-1].machine
}

// overlay holds the active children chosen by earlier hops of a plan that
// has not been committed yet
type overlay map[nodeID]nodeID

func (t *tree) start(args []any) error {
	ov := overlay{}
	first, err := t.settle(rootID, nil, ov)
	if err != nil {
		return err
	}
	hops, err := t.plan(first, "", args, ov)
	if err != nil {
		return err
	}
	t.commit(hops, args)
	return nil
}

func (t *tree) fire(event string, args []any) error {
	root := t.comp(rootID)
	owner, leaf, ok := t.activeLeaf(rootID)
	if !ok {
		return NewNoTransitionError(root.current, event)
	}
	target, ok := t.nodes[leaf].leaf.Target(event)
	if !ok {
		return NewNoTransitionError(root.current, event)
	}

	ov := overlay{}
	first, err := t.resolve(owner, newEventRecord(event, target), ov)
	if err != nil {
		return err
	}
	hops, err := t.plan(first, event, args, ov)
	if err != nil {
		return err
	}
	t.commit(hops, args)
	return nil
}

// resolve turns a target path into steps. Relative paths are resolved
// among the children of origin, absolute paths from the root.
func (t *tree) resolve(origin nodeID, rec eventRecord, ov overlay) ([]step, error) {
	if rec.absolute() {
		return t.descend(rootID, rec.fromRoot(), nil, ov)
	}
	return t.descend(origin, rec, nil, ov)
}

// descend follows the segments of rec below machine at
func (t *tree) descend(at nodeID, rec eventRecord, steps []step, ov overlay) ([]step, error) {
	c := t.comp(at)
	segment, rest := rec.head()
	if segment == "" {
		return nil, NewPathError(c.name, rec.target, segment, "empty path segment")
	}

	child, ok := c.index[segment]
	if !ok {
		return nil, NewPathError(c.name, rec.target, segment, fmt.Sprintf("no state named '%s'", segment))
	}
	if err := t.materialize(child); err != nil {
		return nil, err
	}
	steps = append(steps, step{machine: at, child: child})

	n := t.nodes[child]
	if rest != "" {
		if n.kind != kindComposite {
			return nil, NewPathError(c.name, rec.target, segment, fmt.Sprintf("'%s' is not a machine", segment))
		}
		return t.descend(child, rec.narrow(rest), steps, ov)
	}
	if n.kind == kindComposite {
		return t.settle(child, steps, ov)
	}
	return steps, nil
}

// settle continues from machine at down to a leaf: planned child first,
// then the active child of a started machine, then the initial child
func (t *tree) settle(at nodeID, steps []step, ov overlay) ([]step, error) {
	c := t.comp(at)
	next, ok := ov[at]
	if !ok {
		next = c.initial
		if c.started && c.active != noNode {
			next = c.active
		}
	}
	if err := t.materialize(next); err != nil {
		return nil, err
	}
	steps = append(steps, step{machine: at, child: next})

	if t.nodes[next].kind == kindComposite {
		return t.settle(next, steps, ov)
	}
	return steps, nil
}

// plan checks the guard of every leaf the transition will enter, following
// redirects until a leaf without one. Nothing is mutated.
func (t *tree) plan(first []step, event string, args []any, ov overlay) ([]hop, error) {
	from := t.comp(rootID).current
	var hops []hop

	for steps := first; ; {
		h := hop{steps: steps, leaf: steps[len(steps)-1].child}
		leaf := t.nodes[h.leaf].leaf

		ctx, err := t.comp(h.owner()).contextValue()
		if err != nil {
			return nil, err
		}
		ok, err := leaf.admits(ctx, args)
		if err != nil {
			t.logger.Error("guard panicked",
				zap.String("machine", t.comp(rootID).name),
				zap.String("state", t.path(h.leaf)),
				zap.Error(err))
		}
		if !ok {
			return nil, NewGuardRejectedError(from, t.path(h.leaf), event)
		}

		hops = append(hops, h)
		for _, s := range steps {
			ov[s.machine] = s.child
		}

		target, redirect := leaf.Redirect()
		if !redirect {
			return hops, nil
		}
		if len(hops) > t.maxRedirects {
			return nil, NewRedirectLoopError(from, event, t.maxRedirects)
		}
		steps, err = t.resolve(h.owner(), newEventRecord(event, target), ov)
		if err != nil {
			return nil, err
		}
	}
}

// commit applies a plan: for each hop the previously active leaf below the
// first changing level is left, active children are updated top-down and the
// new leaf is entered. Qualified names, signals and termination are settled
// afterwards, deepest machine first.
func (t *tree) commit(hops []hop, args []any) {
	before := make(map[nodeID]string)
	for _, h := range hops {
		for _, s := range h.steps {
			for id := s.machine; id != noNode; id = t.nodes[id].parent {
				if _, seen := before[id]; !seen {
					before[id] = t.comp(id).current
				}
			}
		}
	}

	for _, h := range hops {
		t.exitPivot(h, args)
		for _, s := range h.steps {
			c := t.comp(s.machine)
			if !c.started {
				c.started = true
				t.link(s.machine)
			}
			c.active = s.child
		}

		owner := t.comp(h.owner())
		ctx, _ := owner.contextValue()
		if err := t.nodes[h.leaf].leaf.enter(owner.handle, ctx, args); err != nil {
			t.logger.Error("entry action failed",
				zap.String("machine", t.comp(rootID).name),
				zap.String("state", t.path(h.leaf)),
				zap.Error(err))
		}
	}

	ids := make([]nodeID, 0, len(before))
	for id := range before {
		ids = append(ids, id)
	}
	t.byDepth(ids)

	for _, id := range ids {
		c := t.comp(id)
		if !c.started {
			continue
		}
		c.current = JoinPath(c.name, t.childState(c.active))
		if !c.terminated && t.terminal(c.active) {
			c.terminated = true
			if t.nodes[c.active].kind == kindComposite {
				t.unlink(c.active)
			}
		}
		c.publish()
		if c.current != before[id] {
			t.signal(c, "", nil)
		}
	}
}

// exitPivot leaves the active branch below the first level of h whose active
// child changes. A self-transition has no such level.
func (t *tree) exitPivot(h hop, args []any) {
	for _, s := range h.steps {
		c := t.comp(s.machine)
		if !c.started || c.active == noNode {
			return
		}
		if c.active != s.child {
			t.leave(c.active, args)
			return
		}
	}
}

// leave runs the exit action of the deepest active leaf under id
func (t *tree) leave(id nodeID, args []any) {
	n := t.nodes[id]
	switch n.kind {
	case kindComposite:
		if n.comp.started && n.comp.active != noNode {
			t.leave(n.comp.active, args)
		}
	case kindLeaf:
		owner := t.comp(n.parent)
		ctx, _ := owner.contextValue()
		if err := n.leaf.leave(owner.handle, ctx, args); err != nil {
			t.logger.Error("exit action failed",
				zap.String("machine", t.comp(rootID).name),
				zap.String("state", t.path(id)),
				zap.Error(err))
		}
	}
}

package hfsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_HookOrder(t *testing.T) {
	j := &journal{}
	m := mustMachine(t, "m", []Child{
		NewState("a").On("go", "b").OnEntry(j.enter("a")).OnExit(j.exit("a")),
		NewState("b").On("back", "a").OnEntry(j.enter("b")).OnExit(j.exit("b")),
	})

	require.NoError(t, m.Start())
	require.NoError(t, m.Fire("go"))
	require.NoError(t, m.Fire("back"))

	assert.Equal(t, []string{"enter a", "exit a", "enter b", "exit b", "enter a"}, j.all())
	assertState(t, m, "m/a")
}

func TestTransition_ArgsAndMachineReachHooks(t *testing.T) {
	var gotMachine *Machine
	var gotArgs []any
	inner := mustMachine(t, "inner", []Child{
		NewState("x").OnEntry(func(m *Machine, _ Context, args ...any) {
			gotMachine = m
			gotArgs = args
		}).On("out", "/a"),
	})
	m := mustMachine(t, "m", []Child{NewState("a").On("in", "inner"), inner})

	require.NoError(t, m.Start())
	require.NoError(t, m.Fire("in", "payload", 7))

	assert.Same(t, inner, gotMachine, "action receives the enclosing machine")
	assert.Equal(t, []any{"payload", 7}, gotArgs)
}

func TestTransition_GuardRejection(t *testing.T) {
	j := &journal{}
	allow := false
	rec := newRecorder()
	m := mustMachine(t, "m", []Child{
		NewState("a").On("go", "b").OnExit(j.exit("a")),
		NewState("b").On("back", "a").
			WithGuard(func(Context, ...any) bool { return allow }).
			OnEntry(j.enter("b")),
	}, WithReceiver("rec", rec.receiver("rec"), nil))

	require.NoError(t, m.Start())
	rec.reset()

	err := m.Fire("go")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuardRejected)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "m/a", te.From)
	assert.Equal(t, "m/b", te.Target)
	assert.Equal(t, "go", te.Event)

	assertState(t, m, "m/a")
	assert.Empty(t, j.all(), "no hooks run on rejection")
	assert.Empty(t, rec.all(), "no signal on rejection")

	allow = true
	assert.True(t, m.Trigger("go"))
	assertState(t, m, "m/b")
}

func TestTransition_GuardSeesArgsAndContext(t *testing.T) {
	ctx := NewFields("limit")
	require.NoError(t, ctx.Set("limit", 10))

	m, err := NewMachine("m", Static(ctx), []Child{
		NewState("a").On("spend", "b"),
		NewState("b").WithGuard(func(c Context, args ...any) bool {
			limit, _ := c.Get("limit")
			return len(args) == 1 && args[0].(int) <= limit.(int)
		}),
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())

	assert.False(t, m.Trigger("spend", 11))
	assert.True(t, m.Trigger("spend", 5))
	assertState(t, m, "m/b")
}

func TestTransition_PanickingHooks(t *testing.T) {
	t.Run("guard panic rejects", func(t *testing.T) {
		m := mustMachine(t, "m", []Child{
			NewState("a").On("go", "b"),
			NewState("b").WithGuard(func(Context, ...any) bool { panic("boom") }),
		})
		require.NoError(t, m.Start())

		assert.ErrorIs(t, m.Fire("go"), ErrGuardRejected)
		assertState(t, m, "m/a")
	})

	t.Run("action panic does not abort", func(t *testing.T) {
		m := mustMachine(t, "m", []Child{
			NewState("a").On("go", "b").OnExit(func(*Machine, Context, ...any) { panic("exit") }),
			NewState("b").OnEntry(func(*Machine, Context, ...any) { panic("entry") }),
		})
		require.NoError(t, m.Start())

		assert.NoError(t, m.Fire("go"))
		assertState(t, m, "m/b")
		assert.True(t, m.Terminated())
	})
}

func TestTransition_SelfTransition(t *testing.T) {
	j := &journal{}
	rec := newRecorder()
	m := mustMachine(t, "m", []Child{
		NewState("a").On("again", "a").OnEntry(j.enter("a")).OnExit(j.exit("a")),
	}, WithReceiver("rec", rec.receiver("rec"), nil))

	require.NoError(t, m.Start())
	require.NoError(t, m.Fire("again"))
	require.NoError(t, m.Fire("again"))

	assert.Equal(t, []string{"enter a", "enter a", "enter a"}, j.all())
	assert.Equal(t, []string{"m/a"}, rec.states(), "only start is signalled")
	assertState(t, m, "m/a")
}

func TestTransition_Redirects(t *testing.T) {
	t.Run("chain rests on first non-redirect leaf", func(t *testing.T) {
		j := &journal{}
		rec := newRecorder()
		leaf := func(name string) *State {
			return NewState(name).OnEntry(j.enter(name)).OnExit(j.exit(name))
		}
		m := mustMachine(t, "m", []Child{
			leaf("a").On("go", "r1"),
			leaf("r1").RedirectTo("r2"),
			leaf("r2").RedirectTo("c"),
			leaf("c").On("reset", "a"),
		}, WithReceiver("rec", rec.receiver("rec"), nil))

		require.NoError(t, m.Start())
		j.reset()
		rec.reset()

		require.NoError(t, m.Fire("go"))
		assertState(t, m, "m/c")
		assert.Equal(t, []string{
			"exit a",
			"enter r1", "exit r1",
			"enter r2", "exit r2",
			"enter c",
		}, j.all())
		assert.Equal(t, []string{"m/c"}, rec.states())
	})

	t.Run("redirect on start", func(t *testing.T) {
		m := mustMachine(t, "m", []Child{
			NewState("boot").RedirectTo("ready"),
			NewState("ready").On("go", "boot"),
		})
		require.NoError(t, m.Start())
		assertState(t, m, "m/ready")
	})

	t.Run("guard rejection mid chain aborts everything", func(t *testing.T) {
		j := &journal{}
		m := mustMachine(t, "m", []Child{
			NewState("a").On("go", "r").OnExit(j.exit("a")),
			NewState("r").RedirectTo("c").OnEntry(j.enter("r")),
			NewState("c").WithGuard(func(Context, ...any) bool { return false }),
		})
		require.NoError(t, m.Start())

		assert.ErrorIs(t, m.Fire("go"), ErrGuardRejected)
		assertState(t, m, "m/a")
		assert.Empty(t, j.all())
	})

	t.Run("redirect into nested machine and out", func(t *testing.T) {
		inner := mustMachine(t, "inner", []Child{
			NewState("hop").RedirectTo("/done"),
		})
		m := mustMachine(t, "m", []Child{
			NewState("a").On("go", "inner"),
			inner,
			NewState("done").On("again", "a"),
		})
		require.NoError(t, m.Start())

		require.NoError(t, m.Fire("go"))
		assertState(t, m, "m/done")
		assert.True(t, inner.Started())
		assertState(t, inner, "inner/hop")
	})

	t.Run("loop is bounded", func(t *testing.T) {
		m := mustMachine(t, "m", []Child{
			NewState("a").On("go", "ping"),
			NewState("ping").RedirectTo("pong"),
			NewState("pong").RedirectTo("ping"),
		})
		require.NoError(t, m.Start())

		err := m.Fire("go")
		assert.ErrorIs(t, err, ErrRedirectLoop)
		assert.Equal(t, ErrCodeRedirectLoop, GetErrorCode(err))
		assertState(t, m, "m/a")
	})

	t.Run("custom bound", func(t *testing.T) {
		build := func(limit int) *Machine {
			return mustMachine(t, "m", []Child{
				NewState("a").On("go", "r1"),
				NewState("r1").RedirectTo("r2"),
				NewState("r2").RedirectTo("c"),
				NewState("c"),
			}, WithMaxRedirects(limit))
		}

		ok := build(2)
		require.NoError(t, ok.Start())
		assert.NoError(t, ok.Fire("go"))

		tight := build(1)
		require.NoError(t, tight.Start())
		assert.ErrorIs(t, tight.Fire("go"), ErrRedirectLoop)
	})
}

func TestTransition_PathResolution(t *testing.T) {
	newMachine := func(t *testing.T) *Machine {
		sub := mustMachine(t, "sub", []Child{
			NewState("x").On("next", "y").On("top", "/a").On("nowhere", "/missing"),
			NewState("y").On("back", "/a"),
		})
		return mustMachine(t, "m", []Child{
			NewState("a").
				On("sibling", "b").
				On("enter", "sub").
				On("deep", "sub/y").
				On("unknown", "missing").
				On("empty", "sub//y").
				On("leafPath", "b/c"),
			NewState("b").On("back", "a"),
			sub,
		})
	}

	t.Run("sibling", func(t *testing.T) {
		m := newMachine(t)
		require.NoError(t, m.Start())
		require.NoError(t, m.Fire("sibling"))
		assertState(t, m, "m/b")
	})

	t.Run("machine target enters initial child", func(t *testing.T) {
		m := newMachine(t)
		require.NoError(t, m.Start())
		require.NoError(t, m.Fire("enter"))
		assertState(t, m, "m/sub/x")
	})

	t.Run("machine target resumes active child", func(t *testing.T) {
		m := newMachine(t)
		require.NoError(t, m.Start())
		require.NoError(t, m.Fire("enter"))
		require.NoError(t, m.Fire("next"))
		require.NoError(t, m.Fire("back"))
		assertState(t, m, "m/a")

		require.NoError(t, m.Fire("enter"))
		assertState(t, m, "m/sub/y")
	})

	t.Run("descending path", func(t *testing.T) {
		m := newMachine(t)
		require.NoError(t, m.Start())
		require.NoError(t, m.Fire("deep"))
		assertState(t, m, "m/sub/y")
	})

	t.Run("absolute path from nested leaf", func(t *testing.T) {
		m := newMachine(t)
		require.NoError(t, m.Start())
		require.NoError(t, m.Fire("enter"))
		require.NoError(t, m.Fire("top"))
		assertState(t, m, "m/a")
	})

	tests := []struct {
		name   string
		events []string
		reason string
	}{
		{"unknown sibling", []string{"unknown"}, "no state named 'missing'"},
		{"unknown absolute", []string{"enter", "nowhere"}, "no state named 'missing'"},
		{"empty segment", []string{"empty"}, "empty path segment"},
		{"descending through leaf", []string{"leafPath"}, "'b' is not a machine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine(t)
			require.NoError(t, m.Start())
			for _, event := range tt.events[:len(tt.events)-1] {
				require.NoError(t, m.Fire(event))
			}
			before := m.State()

			err := m.Fire(tt.events[len(tt.events)-1])
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidStatePath)
			assert.True(t, IsPathError(err))

			var pe *PathError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.reason, pe.Reason)
			assert.Equal(t, before, m.State())
		})
	}
}

func TestTransition_NestedLifecycle(t *testing.T) {
	j := &journal{}
	sub := mustMachine(t, "sub", []Child{
		NewState("x").On("finish", "fin").OnExit(j.exit("x")),
		NewFinalState("fin").OnEntry(j.enter("fin")),
	})
	m := mustMachine(t, "m", []Child{
		NewState("a").On("go", "sub").OnExit(j.exit("a")),
		sub,
	})

	require.NoError(t, m.Start())
	assert.False(t, sub.Started())
	assert.Empty(t, sub.Receivers())

	require.NoError(t, m.Fire("go"))
	assert.True(t, sub.Started())
	assert.Equal(t, []string{"m"}, sub.Receivers(), "parent receiver is linked on first entry")

	require.NoError(t, m.Fire("finish"))
	assertState(t, m, "m/sub/fin")
	assertState(t, sub, "sub/fin")
	assert.True(t, sub.Terminated())
	assert.True(t, m.Terminated(), "terminated child terminates the parent")
	assert.Empty(t, sub.Receivers(), "parent receiver is unlinked on termination")
	assert.Equal(t, []string{"exit a", "exit x", "enter fin"}, j.all())

	assert.ErrorIs(t, m.Fire("go"), ErrTerminated)
}

func TestTransition_ImplicitFinal(t *testing.T) {
	m := mustMachine(t, "m", []Child{
		NewState("a").On("stop", "dead"),
		NewState("dead"),
	})
	require.NoError(t, m.Start())
	require.NoError(t, m.Fire("stop"))
	assert.True(t, m.Terminated())
}

func TestTransition_NestedSignals(t *testing.T) {
	b := newBooking(t)
	rootRec := newRecorder()
	nestedRec := newRecorder()
	secondRec := newRecorder()
	b.root.Register("root", rootRec.receiver("root"), nil)
	b.nested.Register("nested", nestedRec.receiver("nested"), nil)
	b.second.Register("second", secondRec.receiver("second"), nil)

	require.NoError(t, b.root.Start())
	require.NoError(t, b.root.Fire("book"))
	require.NoError(t, b.root.Fire("apply"))
	require.NoError(t, b.root.Fire("lease"))

	assert.Equal(t, []string{
		"test-machine/initial",
		"test-machine/booked",
		"test-machine/nested/applied",
		"test-machine/leased",
	}, rootRec.states())
	assert.Equal(t, []string{"nested/applied"}, nestedRec.states())
	assert.Empty(t, secondRec.states(), "second-nested was never entered")
	assert.False(t, b.second.Started())
}

func TestTransition_EnterNestedInitialDescent(t *testing.T) {
	second := mustMachine(t, "second", []Child{
		NewState("deep").On("up", "/a"),
	})
	first := mustMachine(t, "first", []Child{second, NewState("other")})
	m := mustMachine(t, "m", []Child{NewState("a").On("go", "first"), first})

	require.NoError(t, m.Start())
	require.NoError(t, m.Fire("go"))
	assertState(t, m, "m/first/second/deep")
	assert.Equal(t, []string{"first"}, second.Receivers())
	assert.Equal(t, []string{"m"}, first.Receivers())
}

func TestTransition_DeferredChildren(t *testing.T) {
	t.Run("resolved once on first access", func(t *testing.T) {
		calls := 0
		m := mustMachine(t, "m", []Child{
			NewState("a").On("go", "lazy").On("stay", "a"),
			Defer("lazy", func() (Child, error) {
				calls++
				return NewState("lazy").On("back", "a"), nil
			}),
		})

		require.NoError(t, m.Start())
		assert.Equal(t, 0, calls)

		require.NoError(t, m.Fire("go"))
		require.NoError(t, m.Fire("back"))
		require.NoError(t, m.Fire("go"))
		assert.Equal(t, 1, calls)
		assertState(t, m, "m/lazy")
	})

	t.Run("deferred machine is grafted", func(t *testing.T) {
		var lazy *Machine
		m := mustMachine(t, "m", []Child{
			NewState("a").On("go", "lazy/inner"),
			Defer("lazy", func() (Child, error) {
				var err error
				lazy, err = NewMachine("lazy", nil, []Child{
					NewState("first"),
					NewState("inner").On("out", "/a"),
				})
				return lazy, err
			}),
		})

		require.NoError(t, m.Start())
		require.NoError(t, m.Fire("go"))
		assertState(t, m, "m/lazy/inner")
		require.NotNil(t, lazy)
		assert.Equal(t, "m/lazy", lazy.Path())
		assertState(t, lazy, "lazy/inner")

		require.NoError(t, m.Fire("out"))
		assertState(t, m, "m/a")
	})

	t.Run("deferred initial child", func(t *testing.T) {
		m := mustMachine(t, "m", []Child{
			Defer("boot", func() (Child, error) { return NewState("boot").On("go", "boot"), nil }),
		})
		require.NoError(t, m.Start())
		assertState(t, m, "m/boot")
	})

	invalid := []struct {
		name    string
		factory func() (Child, error)
	}{
		{"factory error", func() (Child, error) { return nil, errors.New("unavailable") }},
		{"nil child", func() (Child, error) { return nil, nil }},
		{"nil state", func() (Child, error) { return (*State)(nil), nil }},
		{"name mismatch", func() (Child, error) { return NewState("other"), nil }},
		{"nested deferred", func() (Child, error) {
			return Defer("lazy", func() (Child, error) { return NewState("lazy"), nil }), nil
		}},
		{"factory panic", func() (Child, error) { panic("boom") }},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			factory := tt.factory
			m := mustMachine(t, "m", []Child{
				NewState("a").On("go", "lazy"),
				Defer("lazy", func() (Child, error) {
					calls++
					return factory()
				}),
			})
			require.NoError(t, m.Start())

			err := m.Fire("go")
			assert.ErrorIs(t, err, ErrInvalidChildFactory)
			assert.True(t, IsConfigurationError(err))
			assertState(t, m, "m/a")

			again := m.Fire("go")
			assert.ErrorIs(t, again, ErrInvalidChildFactory)
			assert.Equal(t, 1, calls, "failed resolution is memoized")
		})
	}
}

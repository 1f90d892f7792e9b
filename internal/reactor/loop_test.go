package reactor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_Counter(t *testing.T) {
	inst, _ := newTestInstance(t)
	addCounter(t, inst)
	r := record(inst)

	for i := 0; i < 3; i++ {
		require.NoError(t, inst.DispatchEvent("inc", nil))
	}
	assert.Equal(t, 0, inst.Get("count"), "writes are visible only after the turn is taken")
	assert.Equal(t, 3, inst.Pending(), "each dispatch is its own turn")

	flush(t, inst)

	assert.Equal(t, 3, inst.Get("count"))
	assert.Equal(t, 3, r.count("countChanged"))
	assert.Equal(t, 3, r.count("inc"))

	loops := make(map[int64]bool)
	for _, rec := range r.records() {
		loops[rec.LoopID] = true
		assert.Equal(t, "external", rec.Emitter)
	}
	assert.Len(t, loops, 3, "one loop per top-level batch")
}

func TestLoop_SameTurnUpdatesCoalesce(t *testing.T) {
	inst, _ := newTestInstance(t)
	require.NoError(t, inst.AddProperty(PropertySpec{ID: "a", Type: "number", Value: 0}))
	require.NoError(t, inst.AddProperty(PropertySpec{ID: "b", Type: "number", Value: 0}))

	seen := map[string]int{}
	_, err := inst.AddModule("view", Bindings{Properties: map[string]PropertyBinding{
		"a": func(s *Scope) error { seen["a"]++; return nil },
		"b": func(s *Scope) error { seen["b"]++; return nil },
	}})
	require.NoError(t, err)
	seen = map[string]int{}
	r := record(inst)

	require.NoError(t, inst.Set("a", 1))
	require.NoError(t, inst.Set("b", 2))
	require.NoError(t, inst.Set("a", 5))
	assert.Equal(t, 1, inst.Pending())
	assert.Equal(t, 0, inst.Get("a"))

	flush(t, inst)

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, seen)
	recs := r.records()
	require.Len(t, recs, 1)
	assert.Equal(t, []Update{{ID: "a", Value: 5}, {ID: "b", Value: 2}}, recs[0].Updates)
}

func TestLoop_DispatchClosesCoalescingWindow(t *testing.T) {
	inst, _ := newTestInstance(t)
	addCounter(t, inst)

	require.NoError(t, inst.Set("count", 10))
	require.NoError(t, inst.DispatchEvent("inc", nil))
	require.NoError(t, inst.Set("count", 20))
	assert.Equal(t, 3, inst.Pending())

	flush(t, inst)
	assert.Equal(t, 20, inst.Get("count"), "turn order follows call order")
}

func hackChain(t *testing.T, inst *Instance, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, inst.AddHack(HackSpec{
			Triggers:    []string{fmt.Sprintf("e%d", i)},
			Dispatch:    []string{fmt.Sprintf("e%d", i+1)},
			Description: fmt.Sprintf("step %d", i+1),
		}))
	}
}

func TestLoop_FixpointChain(t *testing.T) {
	const n = 4
	inst, _ := newTestInstance(t, WithMaxDepth(n+1))
	hackChain(t, inst, n)
	r := record(inst)

	require.NoError(t, inst.DispatchEvent("e0", nil))
	flush(t, inst)

	var dispatched []string
	for _, rec := range r.records() {
		dispatched = append(dispatched, rec.Dispatched...)
	}
	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, dispatched)
	assert.Len(t, r.records(), n+1)
	assert.Equal(t, n+1, r.records()[n].Depth)
}

func TestLoop_DepthExceeded(t *testing.T) {
	for _, maxDepth := range []int{1, 3, 4} {
		t.Run(fmt.Sprintf("max %d", maxDepth), func(t *testing.T) {
			inst, logs := newTestInstance(t, WithMaxDepth(maxDepth), WithStrict(false))
			hackChain(t, inst, 4)

			require.NoError(t, inst.DispatchEvent("e0", nil))
			err := inst.Flush(context.Background())

			require.Error(t, err)
			assert.True(t, IsDepthError(err), "depth errors are fatal even when lenient")
			assert.True(t, logs.Contains("max depth exceeded"))
		})
	}
}

func TestLoop_DepthGuardDisabled(t *testing.T) {
	inst, _ := newTestInstance(t, WithMaxDepth(0))
	hackChain(t, inst, 150)

	require.NoError(t, inst.DispatchEvent("e0", nil))
	flush(t, inst)
}

func TestLoop_ConflictingUpdatesFirstWins(t *testing.T) {
	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			inst, logs := newTestInstance(t, WithStrict(strict))
			require.NoError(t, inst.AddProperty(PropertySpec{ID: "x", Type: "number", Value: 0}))
			for _, v := range []int{1, 2} {
				v := v
				require.NoError(t, inst.AddHack(HackSpec{
					Triggers: []string{"go"},
					Action: func(s *Scope, ev Event) error {
						s.Set("x", v)
						return nil
					},
				}))
			}

			require.NoError(t, inst.DispatchEvent("go", nil))
			flush(t, inst)

			assert.Equal(t, 1, inst.Get("x"))
			assert.Equal(t, 1, logs.Count("conflicting update dropped", "property=x"))
		})
	}
}

func TestLoop_SameValueIsNotAConflict(t *testing.T) {
	inst, logs := newTestInstance(t)
	require.NoError(t, inst.AddProperty(PropertySpec{ID: "x", Type: "number", Value: 0}))
	for i := 0; i < 2; i++ {
		require.NoError(t, inst.AddHack(HackSpec{
			Triggers: []string{"go"},
			Action: func(s *Scope, ev Event) error {
				s.Set("x", 1)
				return nil
			},
		}))
	}

	require.NoError(t, inst.DispatchEvent("go", nil))
	flush(t, inst)

	assert.Equal(t, 1, inst.Get("x"))
	assert.False(t, logs.Contains("conflicting update dropped"))
}

func TestLoop_AscendingEvents(t *testing.T) {
	inst, _ := newTestInstance(t)
	require.NoError(t, inst.AddProperty(PropertySpec{
		ID:       "name",
		Type:     "string",
		Value:    "",
		Triggers: []string{"rename"},
		Dispatch: []string{"renamed"},
	}))
	r := record(inst)

	require.NoError(t, inst.DispatchEvent("rename", map[string]any{"name": "bob", "other": 1}))
	flush(t, inst)

	assert.Equal(t, "bob", inst.Get("name"))
	assert.Equal(t, []string{"rename", "renamed"}, r.names())
	assert.Equal(t, map[string]any{"name": "bob"}, r.events[1].Data)
}

func TestLoop_DispatchSetMergesPayloads(t *testing.T) {
	inst, _ := newTestInstance(t)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, inst.AddProperty(PropertySpec{
			ID:       id,
			Type:     "number",
			Value:    0,
			Dispatch: []string{"changed"},
		}))
	}
	r := record(inst)

	require.NoError(t, inst.Update(map[string]any{"a": 1, "b": 2}))
	flush(t, inst)

	require.Equal(t, 1, r.count("changed"), "one dispatch per distinct event per pass")
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, r.events[0].Data)
}

func TestLoop_HackRunsOncePerPass(t *testing.T) {
	inst, _ := newTestInstance(t)
	runs := 0
	require.NoError(t, inst.AddHack(HackSpec{
		Triggers: []string{"x", "y"},
		Action: func(s *Scope, ev Event) error {
			runs++
			return nil
		},
	}))
	other := 0
	require.NoError(t, inst.AddHack(HackSpec{
		Triggers: []string{"y"},
		Action: func(s *Scope, ev Event) error {
			other++
			return nil
		},
	}))
	require.NoError(t, inst.AddShortcut(ShortcutSpec{Key: "ctrl+b", Events: []string{"x", "y"}}))

	require.NoError(t, inst.Shortcut("ctrl+b"))
	flush(t, inst)

	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, other)
}

func TestLoop_CatchAllListenersAlwaysFire(t *testing.T) {
	inst, _ := newTestInstance(t)
	require.NoError(t, inst.AddShortcut(ShortcutSpec{Key: "k", Events: []string{"x", "x"}}))
	r := record(inst)

	require.NoError(t, inst.Shortcut("k"))
	flush(t, inst)

	assert.Equal(t, 2, r.count("x"))
}

func TestLoop_UnknownProperty(t *testing.T) {
	strict, _ := newTestInstance(t, WithStrict(true))
	require.NoError(t, strict.Set("ghost", 1))
	err := strict.Flush(context.Background())
	assert.True(t, HasCode(err, ErrCodeUnknownProperty), "got %v", err)

	lenient, logs := newTestInstance(t)
	require.NoError(t, lenient.AddProperty(PropertySpec{ID: "real", Value: 0}))
	require.NoError(t, lenient.Update(map[string]any{"ghost": 1, "real": 2}))
	flush(t, lenient)
	assert.Equal(t, 2, lenient.Get("real"), "lenient mode skips only the bad write")
	assert.True(t, logs.Contains("UNKNOWN_PROPERTY", "property=ghost"))
}

func TestLoop_CallbackErrors(t *testing.T) {
	failing := HackSpec{
		Triggers: []string{"go"},
		Action:   func(s *Scope, ev Event) error { return errors.New("boom") },
		Dispatch: []string{"after"},
	}

	t.Run("lenient", func(t *testing.T) {
		inst, logs := newTestInstance(t)
		require.NoError(t, inst.AddHack(failing))
		r := record(inst)

		require.NoError(t, inst.DispatchEvent("go", nil))
		flush(t, inst)
		assert.True(t, logs.Contains("CALLBACK_FAILED"))
		assert.Equal(t, 1, r.count("after"), "declared dispatch still runs")
	})

	t.Run("strict", func(t *testing.T) {
		inst, _ := newTestInstance(t, WithStrict(true))
		require.NoError(t, inst.AddHack(failing))

		require.NoError(t, inst.DispatchEvent("go", nil))
		err := inst.Flush(context.Background())
		assert.True(t, HasCode(err, ErrCodeCallbackFailed), "got %v", err)
	})

	t.Run("die is fatal", func(t *testing.T) {
		inst, _ := newTestInstance(t)
		require.NoError(t, inst.AddHack(HackSpec{
			Triggers: []string{"go"},
			Action: func(s *Scope, ev Event) error {
				s.Die("cannot continue")
				return nil
			},
		}))

		require.NoError(t, inst.DispatchEvent("go", nil))
		err := inst.Flush(context.Background())
		assert.True(t, HasCode(err, ErrCodeDied), "got %v", err)
	})
}

func TestLoop_ReentrantExecution(t *testing.T) {
	inst, _ := newTestInstance(t)
	var inner error
	inst.Hub().On(func(ev Event) {
		require.NoError(t, inst.DispatchEvent("pong", nil))
		inner = inst.Flush(context.Background())
	}, "ping")

	require.NoError(t, inst.DispatchEvent("ping", nil))
	flush(t, inst)

	assert.True(t, HasCode(inner, ErrCodeReentrant), "got %v", inner)
}

func TestLoop_HackEventCarriesPayload(t *testing.T) {
	inst, _ := newTestInstance(t)
	require.NoError(t, inst.AddProperty(PropertySpec{ID: "last", Value: ""}))
	require.NoError(t, inst.AddHack(HackSpec{
		Triggers: []string{"say"},
		Action: func(s *Scope, ev Event) error {
			s.Set("last", s.Param("word"))
			return nil
		},
	}))

	require.NoError(t, inst.DispatchEvent("say", map[string]any{"word": "hi"}))
	flush(t, inst)
	assert.Equal(t, "hi", inst.Get("last"))
}

func TestLoop_PassRecordTokens(t *testing.T) {
	inst, _ := newTestInstance(t)
	addCounter(t, inst)
	r := record(inst)

	require.NoError(t, inst.DispatchEvent("inc", nil))
	require.NoError(t, inst.DispatchEvent("inc", nil))
	flush(t, inst)

	recs := r.records()
	require.Len(t, recs, 6)
	assert.Equal(t, "loop-0001", recs[0].Token)
	assert.Equal(t, "loop-0001", recs[2].Token)
	assert.Equal(t, "loop-0002", recs[3].Token)
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, []int{recs[0].Depth, recs[1].Depth, recs[2].Depth, recs[3].Depth, recs[4].Depth, recs[5].Depth})
}

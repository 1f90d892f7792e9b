package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calls(log *[]string, tag string) Handler {
	return func(ev Event) {
		*log = append(*log, tag+":"+ev.Type)
	}
}

func TestHub_OnNamedAndCatchAll(t *testing.T) {
	h := NewHub()
	var log []string

	h.On(calls(&log, "all"))
	h.On(calls(&log, "a"), "a")
	h.On(calls(&log, "ab"), "a", "b")

	h.Emit(Event{Type: "a"})
	h.Emit(Event{Type: "b"})
	h.Emit(Event{Type: "c"})

	assert.Equal(t, []string{
		"all:a", "a:a", "ab:a",
		"all:b", "ab:b",
		"all:c",
	}, log, "listeners fire in registration order, catch-alls included")
}

func TestHub_EmitDefaultsData(t *testing.T) {
	h := NewHub()
	var got Event
	h.On(func(ev Event) { got = ev }, "x")

	h.Emit(Event{Type: "x"})
	require.NotNil(t, got.Data)
	assert.Empty(t, got.Data)
}

func TestHub_OnMap(t *testing.T) {
	h := NewHub()
	var log []string

	ids := h.OnMap(map[string]Handler{
		"b": calls(&log, "B"),
		"a": calls(&log, "A"),
	})
	require.Len(t, ids, 2)

	h.EmitAll([]string{"a", "b"}, nil)
	assert.Equal(t, []string{"A:a", "B:b"}, log)
}

func TestHub_Off(t *testing.T) {
	t.Run("handle everywhere", func(t *testing.T) {
		h := NewHub()
		var log []string
		id := h.On(calls(&log, "x"), "a", "b")
		all := h.On(calls(&log, "all"))

		h.Off(id)
		h.Off(all)
		h.Emit(Event{Type: "a"})
		assert.Empty(t, log)
		assert.Equal(t, 0, h.Len())
	})

	t.Run("handle from some events", func(t *testing.T) {
		h := NewHub()
		var log []string
		id := h.On(calls(&log, "x"), "a", "b")

		h.Off(id, "a")
		h.Emit(Event{Type: "a"})
		h.Emit(Event{Type: "b"})
		assert.Equal(t, []string{"x:b"}, log)

		h.Off(id, "b")
		assert.Equal(t, 0, h.Len(), "listener dropped once no event is left")
	})

	t.Run("named form keeps catch-alls", func(t *testing.T) {
		h := NewHub()
		var log []string
		all := h.On(calls(&log, "all"))

		h.Off(all, "a")
		h.Emit(Event{Type: "a"})
		assert.Equal(t, []string{"all:a"}, log)
	})

	t.Run("events", func(t *testing.T) {
		h := NewHub()
		var log []string
		h.On(calls(&log, "a1"), "a")
		h.On(calls(&log, "a2"), "a", "b")
		h.On(calls(&log, "all"))

		h.OffEvents("a")
		h.Emit(Event{Type: "a"})
		h.Emit(Event{Type: "b"})
		assert.Equal(t, []string{"all:a", "a2:b", "all:b"}, log)
	})

	t.Run("clear", func(t *testing.T) {
		h := NewHub()
		var log []string
		h.On(calls(&log, "a"), "a")
		h.On(calls(&log, "all"))

		h.Clear()
		h.Emit(Event{Type: "a"})
		assert.Empty(t, log)
	})
}

func TestHub_Once(t *testing.T) {
	h := NewHub()
	var log []string
	h.Once(calls(&log, "once"), "a")

	h.Emit(Event{Type: "a"})
	h.Emit(Event{Type: "a"})
	assert.Equal(t, []string{"once:a"}, log)
}

func TestHub_HandlerMayRegister(t *testing.T) {
	h := NewHub()
	var log []string
	h.On(func(ev Event) {
		h.On(calls(&log, "late"), "a")
	}, "a")

	h.Emit(Event{Type: "a"})
	assert.Empty(t, log, "listeners added during emit wait for the next event")

	h.Emit(Event{Type: "a"})
	assert.Equal(t, []string{"late:a"}, log)
}

func TestHub_NormalizesNames(t *testing.T) {
	h := NewHub()
	var log []string
	h.On(calls(&log, "x"), "caf\u0065\u0301")

	h.Emit(Event{Type: "caf\u00e9"})
	assert.Len(t, log, 1, "decomposed and composed forms name the same event")
}

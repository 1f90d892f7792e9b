package reactor

import (
	"sort"
	"sync"
)

// Event is a named notification with an optional payload.
type Event struct {
	Type string
	Data map[string]any

	// Emitter names the origin of the top-level batch the event belongs to.
	Emitter string
}

// Handler receives emitted events.
type Handler func(Event)

// ListenerID is the handle returned by On. It is the only way to remove a
// single registration.
type ListenerID uint64

type listener struct {
	id     ListenerID
	fn     Handler
	events map[string]bool // nil for catch-all
	once   bool
}

// Hub is the synchronous publish/subscribe bus of an instance.
//
// Listeners live in an arena keyed by ListenerID; index maps point from
// event names to listener ids. Emit invokes matching listeners in
// registration order without holding the lock, so handlers may register or
// remove listeners.
type Hub struct {
	mu       sync.RWMutex
	next     ListenerID
	arena    map[ListenerID]*listener
	byEvent  map[string]map[ListenerID]struct{}
	catchAll map[ListenerID]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		arena:    make(map[ListenerID]*listener),
		byEvent:  make(map[string]map[ListenerID]struct{}),
		catchAll: make(map[ListenerID]struct{}),
	}
}

// On registers fn for the named events. With no names fn is a catch-all
// that receives every event.
func (h *Hub) On(fn Handler, names ...string) ListenerID {
	return h.add(fn, false, names)
}

// Once is On for a listener that is dropped after its first call.
func (h *Hub) Once(fn Handler, names ...string) ListenerID {
	return h.add(fn, true, names)
}

// OnMap registers one handler per event. Ids are returned in event-name
// order.
func (h *Hub) OnMap(handlers map[string]Handler) []ListenerID {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := make([]ListenerID, 0, len(names))
	for _, name := range names {
		ids = append(ids, h.add(handlers[name], false, []string{name}))
	}
	return ids
}

func (h *Hub) add(fn Handler, once bool, names []string) ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	l := &listener{id: h.next, fn: fn, once: once}
	h.arena[l.id] = l

	if len(names) == 0 {
		h.catchAll[l.id] = struct{}{}
		return l.id
	}
	l.events = make(map[string]bool, len(names))
	for _, name := range names {
		name = canonical(name)
		l.events[name] = true
		set, ok := h.byEvent[name]
		if !ok {
			set = make(map[ListenerID]struct{})
			h.byEvent[name] = set
		}
		set[l.id] = struct{}{}
	}
	return l.id
}

// Off removes a listener. With no names it is removed everywhere; with
// names only from those events, and dropped once no event is left.
// Catch-all listeners are only removed by the no-name form.
func (h *Hub) Off(id ListenerID, names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.arena[id]
	if !ok {
		return
	}
	if len(names) == 0 {
		h.dropLocked(l)
		return
	}
	if l.events == nil {
		return
	}
	for _, name := range names {
		name = canonical(name)
		if !l.events[name] {
			continue
		}
		delete(l.events, name)
		h.unindexLocked(name, id)
	}
	if len(l.events) == 0 {
		delete(h.arena, id)
	}
}

// OffEvents removes every named listener of the given events. Catch-all
// listeners stay.
func (h *Hub) OffEvents(names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, name := range names {
		name = canonical(name)
		for id := range h.byEvent[name] {
			l := h.arena[id]
			delete(l.events, name)
			if len(l.events) == 0 {
				delete(h.arena, id)
			}
		}
		delete(h.byEvent, name)
	}
}

// Clear removes every listener.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.arena = make(map[ListenerID]*listener)
	h.byEvent = make(map[string]map[ListenerID]struct{})
	h.catchAll = make(map[ListenerID]struct{})
}

func (h *Hub) dropLocked(l *listener) {
	delete(h.arena, l.id)
	delete(h.catchAll, l.id)
	for name := range l.events {
		h.unindexLocked(name, l.id)
	}
}

func (h *Hub) unindexLocked(name string, id ListenerID) {
	set := h.byEvent[name]
	delete(set, id)
	if len(set) == 0 {
		delete(h.byEvent, name)
	}
}

// Len returns the number of live listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.arena)
}

// Emit delivers an event to its named listeners and to every catch-all, in
// registration order.
func (h *Hub) Emit(ev Event) {
	ev.Type = canonical(ev.Type)
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	for _, l := range h.matching(ev.Type) {
		l.fn(ev)
	}
}

// EmitAll emits one event per name with the same payload.
func (h *Hub) EmitAll(names []string, data map[string]any) {
	for _, name := range names {
		h.Emit(Event{Type: name, Data: data})
	}
}

func (h *Hub) matching(name string) []*listener {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]ListenerID, 0, len(h.byEvent[name])+len(h.catchAll))
	for id := range h.byEvent[name] {
		ids = append(ids, id)
	}
	for id := range h.catchAll {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*listener, 0, len(ids))
	for _, id := range ids {
		l := h.arena[id]
		out = append(out, l)
		if l.once {
			h.dropLocked(l)
		}
	}
	return out
}

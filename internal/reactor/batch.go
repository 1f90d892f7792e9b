package reactor

import "github.com/roach88/reactor/internal/types"

// valueSet is an insertion-ordered map of pending property writes.
type valueSet struct {
	keys   []string
	values map[string]any
}

func newValueSet() *valueSet {
	return &valueSet{values: make(map[string]any)}
}

// put adds a write unless the key is already present. Reports whether the
// write was accepted.
func (s *valueSet) put(k string, v any) bool {
	if _, ok := s.values[k]; ok {
		return false
	}
	s.keys = append(s.keys, k)
	s.values[k] = v
	return true
}

// set adds or replaces a write, keeping the original position.
func (s *valueSet) set(k string, v any) {
	if _, ok := s.values[k]; !ok {
		s.keys = append(s.keys, k)
	}
	s.values[k] = v
}

func (s *valueSet) len() int {
	return len(s.keys)
}

// batch is the unit of work of one pass.
type batch struct {
	updates  *valueSet
	events   []Event
	services []ServiceCall
	force    bool

	depth   int
	loopID  int64
	token   string
	emitter string
}

func newBatch(emitter string) *batch {
	return &batch{
		updates: newValueSet(),
		emitter: emitter,
	}
}

// continuation returns the empty batch for the next pass of the same loop.
func (b *batch) continuation() *batch {
	return &batch{
		updates: newValueSet(),
		depth:   b.depth,
		loopID:  b.loopID,
		token:   b.token,
		emitter: b.emitter,
	}
}

func (b *batch) empty() bool {
	return b.updates.len() == 0 && len(b.events) == 0 && len(b.services) == 0
}

// dispatchSet collects the events a pass dispatches, once per name.
type dispatchSet struct {
	order []string
	data  map[string]map[string]any
}

func newDispatchSet() *dispatchSet {
	return &dispatchSet{data: make(map[string]map[string]any)}
}

// add schedules an event. Payload keys merge first-wins; the keys that were
// dropped are returned.
func (d *dispatchSet) add(name string, data map[string]any) []string {
	cur, ok := d.data[name]
	if !ok {
		cur = make(map[string]any, len(data))
		d.data[name] = cur
		d.order = append(d.order, name)
	}
	var dropped []string
	for k, v := range data {
		if old, exists := cur[k]; exists {
			if !types.Equal(old, v) {
				dropped = append(dropped, k)
			}
			continue
		}
		cur[k] = v
	}
	return dropped
}

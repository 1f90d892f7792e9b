package reactor

import (
	"fmt"
	"sync"
)

// ShortcutSpec binds a key to events dispatched together.
type ShortcutSpec struct {
	Key         string
	Events      []string
	Data        map[string]any
	Description string
}

type shortcutTable struct {
	mu    sync.RWMutex
	byKey map[string]ShortcutSpec
	order []string
}

func newShortcutTable() *shortcutTable {
	return &shortcutTable{byKey: make(map[string]ShortcutSpec)}
}

// AddShortcut registers a shortcut.
func (inst *Instance) AddShortcut(spec ShortcutSpec) error {
	if err := inst.alive(); err != nil {
		return err
	}
	if spec.Key == "" {
		return inst.configErr(ErrCodeMissingField, "", "shortcut key is required")
	}
	if len(spec.Events) == 0 {
		return inst.configErr(ErrCodeMissingField, spec.Key, "shortcut requires at least one event")
	}
	spec.Events = canonicalAll(spec.Events)

	t := inst.shortcuts
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byKey[spec.Key]; exists {
		return inst.configErr(ErrCodeDuplicateID, spec.Key, "shortcut already bound")
	}
	t.byKey[spec.Key] = spec
	t.order = append(t.order, spec.Key)
	return nil
}

// Shortcuts returns the bound shortcuts in registration order.
func (inst *Instance) Shortcuts() []ShortcutSpec {
	t := inst.shortcuts
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ShortcutSpec, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.byKey[k])
	}
	return out
}

// Shortcut queues the events bound to key as one top-level batch.
func (inst *Instance) Shortcut(key string) error {
	if err := inst.alive(); err != nil {
		return err
	}
	t := inst.shortcuts
	t.mu.RLock()
	spec, ok := t.byKey[key]
	t.mu.RUnlock()
	if !ok {
		return inst.handle(&RuntimeError{
			Code:     ErrCodeUnknownShortcut,
			Instance: inst.name,
			Message:  fmt.Sprintf("no shortcut bound to %q", key),
		})
	}

	return inst.enqueue("shortcut:"+key, func(b *batch) {
		for _, name := range spec.Events {
			b.events = append(b.events, Event{Type: name, Data: spec.Data})
		}
	})
}

func (t *shortcutTable) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey = make(map[string]ShortcutSpec)
	t.order = nil
}

package reactor

import (
	"sync"
)

// Action is the body of a hack.
type Action func(s *Scope, ev Event) error

// HackSpec declares a hack: a rule that runs an action and dispatches
// events whenever one of its triggers is processed by a pass.
type HackSpec struct {
	Triggers    []string
	Action      Action
	Dispatch    []string
	Description string
}

type hack struct {
	seq         int
	triggers    []string
	action      Action
	dispatch    []string
	description string
}

// HackRegistry indexes hacks by trigger and, for introspection, by the
// events they dispatch.
type HackRegistry struct {
	mu        sync.RWMutex
	hacks     []*hack
	byTrigger map[string][]*hack
	reverse   map[string][]string
}

func newHackRegistry() *HackRegistry {
	return &HackRegistry{
		byTrigger: make(map[string][]*hack),
		reverse:   make(map[string][]string),
	}
}

// AddHack registers a hack. At least one trigger is required.
func (inst *Instance) AddHack(spec HackSpec) error {
	if err := inst.alive(); err != nil {
		return err
	}
	if len(spec.Triggers) == 0 {
		return inst.configErr(ErrCodeMissingField, "", "hack requires at least one trigger")
	}
	for _, name := range spec.Triggers {
		if name == "" {
			return inst.configErr(ErrCodeInvalidID, "", "hack trigger must not be empty")
		}
	}

	h := &hack{
		triggers:    dedupe(canonicalAll(spec.Triggers)),
		action:      spec.Action,
		dispatch:    canonicalAll(spec.Dispatch),
		description: spec.Description,
	}
	inst.hacks.add(h)

	inst.logger.Debug("hack registered",
		"triggers", h.triggers,
		"dispatch", h.dispatch,
	)
	return nil
}

// Hacks returns the hack registry for introspection.
func (inst *Instance) Hacks() *HackRegistry {
	return inst.hacks
}

func (r *HackRegistry) add(h *hack) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.seq = len(r.hacks)
	r.hacks = append(r.hacks, h)
	for _, t := range h.triggers {
		r.byTrigger[t] = append(r.byTrigger[t], h)
	}
	if h.description != "" {
		for _, d := range h.dispatch {
			r.reverse[d] = append(r.reverse[d], h.description)
		}
	}
}

func (r *HackRegistry) forTrigger(event string) []*hack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byTrigger[event]
}

// Len returns the number of registered hacks.
func (r *HackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hacks)
}

// Triggers returns every event that triggers at least one hack, in
// registration order.
func (r *HackRegistry) Triggers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	seen := make(map[string]bool)
	for _, h := range r.hacks {
		for _, t := range h.triggers {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Describe returns the descriptions of hacks bound to a trigger.
func (r *HackRegistry) Describe(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, h := range r.byTrigger[canonical(event)] {
		if h.description != "" {
			out = append(out, h.description)
		}
	}
	return out
}

// Dispatches returns the events dispatched when the trigger fires, in
// order and without duplicates.
func (r *HackRegistry) Dispatches(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, h := range r.byTrigger[canonical(event)] {
		out = append(out, h.dispatch...)
	}
	return dedupe(out)
}

// DispatchedBy returns the descriptions of hacks that dispatch an event.
func (r *HackRegistry) DispatchedBy(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.reverse[canonical(event)]...)
}

func (r *HackRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hacks = nil
	r.byTrigger = make(map[string][]*hack)
	r.reverse = make(map[string][]string)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

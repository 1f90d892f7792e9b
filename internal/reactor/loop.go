package reactor

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/reactor/internal/types"
)

// execute runs a top-level batch and its continuations until a fixpoint.
//
// Passes run iteratively: each continuation carries the loop id, token and
// emitter of the batch that started the loop, with depth incremented.
func (inst *Instance) execute(ctx context.Context, b *batch) error {
	if !inst.executing.CompareAndSwap(false, true) {
		return &RuntimeError{
			Code:     ErrCodeReentrant,
			Instance: inst.name,
			Message:  "pass started while another pass holds the execution lock",
		}
	}
	defer inst.executing.Store(false)

	for b != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := inst.pass(b)
		if err != nil {
			return err
		}
		b = next
	}
	return nil
}

// pass processes one batch and returns the next one, or nil at the
// fixpoint.
func (inst *Instance) pass(cur *batch) (*batch, error) {
	if err := inst.alive(); err != nil {
		return nil, err
	}

	cur.depth++
	if cur.loopID == 0 {
		cur.loopID = inst.clock.Next()
		cur.token = inst.tokens.Generate()
	}
	if max := inst.settings.MaxDepth; max > 0 && cur.depth > max {
		err := NewDepthError(inst.name, cur.loopID, cur.depth, max)
		inst.logger.Error("max depth exceeded",
			"loop_id", cur.loopID,
			"token", cur.token,
			"depth", cur.depth,
			"max_depth", max,
		)
		return nil, err
	}

	p := &passState{
		inst: inst,
		cur:  cur,
		next: cur.continuation(),
		ds:   newDispatchSet(),
		rec: PassRecord{
			Instance: inst.name,
			LoopID:   cur.loopID,
			Token:    cur.token,
			Depth:    cur.depth,
			Emitter:  cur.emitter,
		},
	}

	// Events of a top-level batch come from outside the loop and have not
	// been emitted yet.
	if cur.depth == 1 {
		for _, ev := range cur.events {
			ev.Emitter = cur.emitter
			inst.hub.Emit(ev)
		}
	}

	if err := p.updatePhase(); err != nil {
		return nil, err
	}
	if err := p.servicePhase(); err != nil {
		return nil, err
	}
	if err := p.eventPhase(); err != nil {
		return nil, err
	}
	p.dispatchPhase()

	inst.logger.Debug("pass completed",
		"loop_id", cur.loopID,
		"depth", cur.depth,
		"updates", len(p.rec.Updates),
		"dispatched", len(p.rec.Dispatched),
	)
	inst.observe(p.rec)

	if p.next.empty() {
		return nil, nil
	}
	return p.next, nil
}

type passState struct {
	inst *Instance
	cur  *batch
	next *batch
	ds   *dispatchSet
	rec  PassRecord
}

func (p *passState) updatePhase() error {
	inst := p.inst
	for _, id := range p.cur.updates.keys {
		value := p.cur.updates.values[id]

		prop := inst.props.get(id)
		if prop == nil {
			err := &RuntimeError{
				Code:     ErrCodeUnknownProperty,
				Instance: inst.name,
				Property: id,
				Message:  "update of undeclared property",
			}
			if err := inst.handle(err); err != nil {
				return err
			}
			continue
		}

		changed, eff, err := inst.assign(prop, value)
		if err != nil {
			if err := inst.handle(err); err != nil {
				return err
			}
			continue
		}
		p.merge(eff, "setter:"+id)

		if !changed && !p.cur.force && !prop.force {
			p.rec.Skipped = append(p.rec.Skipped, id)
			continue
		}
		stored := inst.props.load(prop)
		p.rec.Updates = append(p.rec.Updates, Update{ID: id, Value: stored})

		for _, m := range inst.modules.forProperty(id) {
			eff, err := m.runProperty(id)
			if err != nil {
				if err := inst.handle(err); err != nil {
					return err
				}
				continue
			}
			p.merge(eff, "module:"+m.id)
		}
		for _, name := range prop.dispatch {
			p.schedule(name, map[string]any{id: stored})
		}
	}
	return nil
}

func (p *passState) servicePhase() error {
	inst := p.inst
	for _, call := range inst.expandCalls(p.cur.services) {
		eff, err := inst.startService(call)
		if err != nil {
			if err := inst.handle(err); err != nil {
				return err
			}
			continue
		}
		p.rec.Services = append(p.rec.Services, canonical(call.ID))
		p.merge(eff, "service:"+call.ID)
	}
	return nil
}

func (p *passState) eventPhase() error {
	inst := p.inst
	fired := make(map[*hack]bool)

	for _, ev := range p.cur.events {
		p.rec.Events = append(p.rec.Events, ev.Type)

		for _, id := range inst.props.triggeredBy(ev.Type) {
			v, ok := ev.Data[id]
			if !ok {
				continue
			}
			if !p.next.updates.put(id, v) {
				inst.conflict(id, "event:"+ev.Type)
			}
		}

		for _, m := range inst.modules.forEvent(ev.Type) {
			eff, err := m.runEvent(ev, p.cur.emitter)
			if err != nil {
				if err := inst.handle(err); err != nil {
					return err
				}
				continue
			}
			p.merge(eff, "module:"+m.id)
		}

		for _, h := range inst.hacks.forTrigger(ev.Type) {
			if fired[h] {
				continue
			}
			fired[h] = true
			p.rec.Hacks++

			if h.action != nil {
				res, err := inst.Execute(func(s *Scope) (any, error) {
					return nil, h.action(s, ev)
				}, ExecOptions{Caps: CapAll, Params: ev.Data, Input: ev})
				if err != nil {
					if err := inst.handle(err); err != nil {
						return err
					}
				} else {
					p.merge(res.Effects, fmt.Sprintf("hack:%d", h.seq))
				}
			}
			for _, name := range h.dispatch {
				p.schedule(name, nil)
			}
		}
	}
	return nil
}

func (p *passState) dispatchPhase() {
	for _, name := range p.ds.order {
		ev := Event{Type: name, Data: p.ds.data[name], Emitter: p.cur.emitter}
		p.inst.hub.Emit(ev)
		p.next.events = append(p.next.events, ev)
		p.rec.Dispatched = append(p.rec.Dispatched, name)
	}
}

func (p *passState) schedule(name string, data map[string]any) {
	for _, key := range p.ds.add(name, data) {
		p.inst.logger.Warn("conflicting event payload dropped",
			"event", name,
			"key", key,
			"loop_id", p.cur.loopID,
		)
	}
}

// merge folds captured effects into the next batch. Updates are first-wins;
// events join this pass's dispatch set.
func (p *passState) merge(eff Effects, origin string) {
	for _, u := range eff.Updates {
		if !p.next.updates.put(u.ID, u.Value) {
			if !types.Equal(p.next.updates.values[u.ID], u.Value) {
				p.inst.conflict(u.ID, origin)
			}
		}
	}
	for _, ev := range eff.Events {
		p.schedule(ev.Type, ev.Data)
	}
	p.next.services = append(p.next.services, eff.Services...)
}

// absorb folds effects into a top-level batch before it runs.
func (inst *Instance) absorb(b *batch, eff Effects, origin string) {
	for _, u := range eff.Updates {
		if !b.updates.put(u.ID, u.Value) && !types.Equal(b.updates.values[u.ID], u.Value) {
			inst.conflict(u.ID, origin)
		}
	}
	for _, ev := range eff.Events {
		ev.Emitter = b.emitter
		b.events = append(b.events, ev)
	}
	b.services = append(b.services, eff.Services...)
}

func (inst *Instance) conflict(id, origin string) {
	inst.logger.Warn("conflicting update dropped",
		"property", id,
		"origin", origin,
	)
}

// handle applies the strict/lenient policy. Soft errors are returned under
// strict mode and logged otherwise; everything else is returned.
func (inst *Instance) handle(err error) error {
	var re *RuntimeError
	if !errors.As(err, &re) || !re.Soft() {
		return err
	}
	inst.softError(re)
	if inst.settings.Strict {
		return err
	}
	inst.logger.Warn(re.Message,
		"code", string(re.Code),
		"property", re.Property,
		"event", re.Event,
		"error", re.Err,
	)
	return nil
}

package reactor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/roach88/reactor/internal/types"
)

// Instance is a named reactive state container.
//
// Public entry points (Update, DispatchEvent, Request, Submit, Shortcut)
// never propagate synchronously: they queue a turn and return. Turns are
// propagated by Run, Flush or Settle, one at a time under the execution
// lock.
//
// Thread-safety model:
//   - entry points, Get and registration: safe from any goroutine
//   - Run: at most one goroutine; Flush and Settle must not overlap with it
//   - callbacks run on the goroutine driving the pass
type Instance struct {
	root      *Root
	name      string
	settings  Settings
	logger    *slog.Logger
	types     *types.Registry
	transport Transport
	observers []Observer
	tokens    TokenGenerator
	clock     *Clock

	props     *propertyStore
	hub       *Hub
	hacks     *HackRegistry
	services  *serviceTable
	shortcuts *shortcutTable
	modules   *moduleTable

	queue     *turnQueue
	executing atomic.Bool
	torn      atomic.Bool

	mu      sync.Mutex
	pending *turn

	baseCtx context.Context
	cancel  context.CancelFunc
}

func newInstance(r *Root, name string, opts ...Option) *Instance {
	inst := &Instance{
		root:      r,
		name:      name,
		settings:  r.defaults,
		types:     r.types,
		tokens:    UUIDv7Generator{},
		clock:     NewClock(),
		props:     newPropertyStore(),
		hub:       NewHub(),
		hacks:     newHackRegistry(),
		services:  newServiceTable(),
		shortcuts: newShortcutTable(),
		modules:   newModuleTable(),
		queue:     newTurnQueue(),
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.logger == nil {
		inst.logger = slog.Default()
	}
	inst.logger = inst.logger.With("instance", name)
	inst.baseCtx, inst.cancel = context.WithCancel(context.Background())
	return inst
}

// Name returns the instance name.
func (inst *Instance) Name() string { return inst.name }

// Settings returns the effective settings.
func (inst *Instance) Settings() Settings { return inst.settings }

// Logger returns the instance logger.
func (inst *Instance) Logger() *slog.Logger { return inst.logger }

// Types returns the type registry used by the instance.
func (inst *Instance) Types() *types.Registry { return inst.types }

// Hub returns the event hub. Listeners see every event a pass emits.
func (inst *Instance) Hub() *Hub { return inst.hub }

// Pending returns the number of queued turns.
func (inst *Instance) Pending() int { return inst.queue.Len() }

func (inst *Instance) alive() error {
	if inst.torn.Load() {
		return &RuntimeError{
			Code:     ErrCodeTornDown,
			Instance: inst.name,
			Message:  "instance was torn down",
		}
	}
	return nil
}

func (inst *Instance) configErr(code ConfigErrorCode, id, msg string) error {
	return &ConfigError{Code: code, Instance: inst.name, ID: id, Message: msg}
}

// UpdateOption configures Update.
type UpdateOption func(*batch)

// Force dispatches descending events even for writes the setter reports as
// no-ops.
func Force() UpdateOption {
	return func(b *batch) { b.force = true }
}

// Update queues property writes. Updates issued before the next turn is
// taken coalesce into one batch; a later write to the same property
// replaces an earlier one.
func (inst *Instance) Update(values map[string]any, opts ...UpdateOption) error {
	force := false
	if len(opts) > 0 {
		probe := newBatch("")
		for _, opt := range opts {
			opt(probe)
		}
		force = probe.force
	}
	return inst.enqueueUpdate(values, "external", force)
}

// Set queues a single property write.
func (inst *Instance) Set(id string, v any, opts ...UpdateOption) error {
	return inst.Update(map[string]any{id: v}, opts...)
}

func (inst *Instance) enqueueUpdate(values map[string]any, emitter string, force bool) error {
	if err := inst.alive(); err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	t := inst.pending
	if t == nil || t.batch.emitter != emitter {
		t = &turn{batch: newBatch(emitter)}
		if !inst.queue.Enqueue(t) {
			return inst.alive()
		}
		inst.pending = t
	}
	for _, k := range keys {
		t.batch.updates.set(canonical(k), values[k])
	}
	t.batch.force = t.batch.force || force
	return nil
}

// DispatchEvent queues an event as its own top-level batch.
func (inst *Instance) DispatchEvent(name string, data map[string]any) error {
	return inst.enqueue("external", func(b *batch) {
		b.events = append(b.events, Event{Type: canonical(name), Data: data})
	})
}

// Request queues a service call as its own top-level batch.
func (inst *Instance) Request(id string, params map[string]any) error {
	return inst.enqueue("external", func(b *batch) {
		b.services = append(b.services, ServiceCall{ID: id, Params: params})
	})
}

func (inst *Instance) enqueue(emitter string, fill func(*batch)) error {
	if err := inst.alive(); err != nil {
		return err
	}
	b := newBatch(emitter)
	fill(b)
	inst.schedule(&turn{batch: b})
	return nil
}

// schedule queues a turn and closes the coalescing window of the pending
// update turn, so later updates do not jump ahead of it.
func (inst *Instance) schedule(t *turn) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.queue.Enqueue(t) {
		inst.pending = nil
	}
}

// processTurn propagates one queued turn.
func (inst *Instance) processTurn(ctx context.Context, t *turn) error {
	inst.mu.Lock()
	if inst.pending == t {
		inst.pending = nil
	}
	inst.mu.Unlock()

	if err := inst.alive(); err != nil {
		return err
	}
	if t.settle != nil {
		if err := inst.settle(t.settle, t.batch); err != nil {
			return err
		}
		if t.batch.empty() {
			return nil
		}
	}
	return inst.execute(ctx, t.batch)
}

// Run propagates turns as they arrive until ctx is cancelled or the
// instance is torn down.
//
// ERROR HANDLING: a failing turn is logged and the loop continues with the
// next one.
func (inst *Instance) Run(ctx context.Context) error {
	inst.logger.Info("instance starting")

	for {
		t, ok := inst.queue.TryDequeue()
		if ok {
			if err := inst.processTurn(ctx, t); err != nil {
				inst.logger.Error("turn failed",
					"emitter", t.batch.emitter,
					"error", err,
				)
			}
			continue
		}

		select {
		case <-ctx.Done():
			inst.logger.Info("instance stopping: context cancelled")
			return ctx.Err()

		case _, open := <-inst.queue.Wait():
			if !open {
				inst.logger.Info("instance stopping: queue closed")
				return nil
			}
		}
	}
}

// Flush propagates every queued turn, including turns queued while
// flushing, and returns the joined errors.
func (inst *Instance) Flush(ctx context.Context) error {
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		t, ok := inst.queue.TryDequeue()
		if !ok {
			break
		}
		if err := inst.processTurn(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Settle flushes until no turn is queued and no service call is in flight.
func (inst *Instance) Settle(ctx context.Context) error {
	var errs []error
	for {
		if err := inst.Flush(ctx); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				return errors.Join(errs...)
			}
		}
		// In-flight first: a call that finished has already queued its turn.
		if inst.InFlight() == 0 && inst.queue.Len() == 0 {
			return errors.Join(errs...)
		}
		select {
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		case _, open := <-inst.queue.Wait():
			if !open {
				return errors.Join(errs...)
			}
		}
	}
}

// Teardown releases the instance name, aborts in-flight services, closes
// the queue and drops all registrations. Later calls fail with TORN_DOWN.
func (inst *Instance) Teardown() {
	if !inst.torn.CompareAndSwap(false, true) {
		return
	}
	inst.root.release(inst.name)
	inst.abortAll()
	inst.cancel()
	inst.queue.Close()

	inst.mu.Lock()
	inst.pending = nil
	inst.mu.Unlock()

	inst.props.reset()
	inst.hub.Clear()
	inst.hacks.reset()
	inst.shortcuts.reset()
	for _, m := range inst.modules.reset() {
		m.removed.Store(true)
	}
	inst.logger.Info("instance torn down")
}

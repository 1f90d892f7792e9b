// Package reactor implements the propagation core: named instances holding
// typed properties, a synchronous event hub, hacks, modules and services,
// all driven by a queued, batched main loop.
//
// ARCHITECTURE:
//
// Turns:
// Every external entry point (Update, DispatchEvent, Request, Submit,
// Shortcut, a service completion) queues a turn instead of mutating state.
// Updates issued back to back coalesce into one turn; every dispatch and
// every completion gets its own. Run, Flush and Settle take turns from the
// queue one at a time.
//
// Passes:
// A turn runs as a loop of passes over a batch {updates, events, services}.
// Each pass:
// 1. applies pending updates through property setters, running module
// property bindings and scheduling descending events for accepted changes
// 2. launches service calls without waiting for them
// 3. processes events: ascending payload keys feed the next batch, module
// event bindings run, every hack bound to the event runs at most once
// 4. emits the de-duplicated dispatch set through the hub and appends it to
// the next batch
//
// The loop stops at the first pass that leaves the next batch empty. A loop
// deeper than Settings.MaxDepth fails.
//
// Sandbox:
// Callbacks (setters, getters, hack actions, module bindings, service hooks)
// receive a Scope. Scope.Update, DispatchEvent and Request record effects
// that the pass merges after the callback returns; the first write to a
// property within a pass wins and later conflicting writes are dropped with
// a warning.
//
// Errors:
// Registration problems are ConfigErrors and always returned. Runtime soft
// errors follow Settings.Strict: returned when strict, logged and skipped
// when lenient. Depth overflow, re-entrant execution and Die are always
// fatal.
package reactor

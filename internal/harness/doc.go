// Package harness runs YAML scenarios against a configured instance.
//
// A scenario names a config file (CUE or YAML, see package config), scripts
// the responses of remote services, and lists steps that submit orders to
// the instance. Each step is followed by Settle unless it sets defer, so
// consecutive deferred updates coalesce into one turn.
//
// # Scenario Format
//
//	name: counter_reset
//	description: "Reset restores the initial count"
//	config: counter.yaml
//	responses:
//	  - url: http://api.test/items/1
//	    data: {state: ready}
//	steps:
//	  - update: {count: 5}
//	    expect: {count: 5}
//	  - shortcut: r
//	  - dispatch: statusReported
//	    data: {status: ok}
//	  - request: load
//	    params: {id: 1}
//	  - order: {kind: event, type: ping}
//	assertions:
//	  - type: value
//	    property: count
//	    equals: 0
//	  - type: event_count
//	    event: countChanged
//	    count: 2
//
// # Assertion Types
//
//   - value: final value of a property equals the expected value
//   - event_count: an event was emitted exactly N times
//   - event_order: events were first emitted in the given order
//   - event_emitted: an event was emitted with a payload matching a subset
//   - no_event: an event was never emitted
//   - max_depth: no pass ran deeper than the given depth
//   - soft_error: a soft error with the given code was reported
//
// # Deterministic Traces
//
// Loop tokens come from testutil.SequenceTokens and the logical clock starts
// at zero for every run, so traces are byte-identical across runs and can be
// compared against golden files with RunWithGolden.
package harness

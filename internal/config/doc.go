// Package config loads declarative instance configuration from CUE or YAML.
//
// A config file has the top-level keys name, settings, types, properties,
// hacks, services and shortcuts. Sections are lists of objects or objects
// keyed by id. Every entry is checked against a closed schema type
// (reactor.property, reactor.hack, reactor.service, reactor.shortcut)
// registered in a types.Registry before anything is applied.
//
// Example (CUE):
//
//	name: "counter"
//	properties: count: {type: "number", value: 0, dispatch: ["countChanged"]}
//	hacks: reset: {triggers: ["reset"], set: {count: 0}}
//	shortcuts: r: {events: ["reset"]}
package config

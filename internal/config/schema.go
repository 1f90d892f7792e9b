package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/reactor/internal/types"
)

// Schema type ids. Each section entry must match its schema exactly: shapes
// are closed, so misspelled fields are rejected.
const (
	SchemaProperty = "reactor.property"
	SchemaHack     = "reactor.hack"
	SchemaService  = "reactor.service"
	SchemaShortcut = "reactor.shortcut"
	SchemaSettings = "reactor.settings"
)

var (
	schemaOnce sync.Once
	schemaReg  *types.Registry
)

// Schemas returns the registry holding the config schema types.
func Schemas() *types.Registry {
	schemaOnce.Do(func() {
		r := types.NewRegistry()
		helpers := []struct {
			id  string
			def any
		}{
			{"reactor.names", "string[]"},
			{"reactor.descriptor", "string|object|array"},
			{"reactor.strings", stringMap},
		}
		for _, h := range helpers {
			mustAdd(r, h.id, h.def)
		}
		for id, shape := range schemaShapes {
			mustAdd(r, id, shape)
		}
		schemaReg = r
	})
	return schemaReg
}

func mustAdd(r *types.Registry, id string, def any) {
	if err := r.Add(id, def); err != nil {
		panic(fmt.Sprintf("config: schema %s: %v", id, err))
	}
}

func stringMap(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, x := range m {
		if _, ok := x.(string); !ok {
			return false
		}
	}
	return true
}

// Validate checks the document against the schema types. With
// LoadModeFailFast it stops at the first problem.
func Validate(doc *Document, mode LoadMode) []error {
	var errs []error
	add := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	unknown := append([]string(nil), doc.unknown...)
	sort.Strings(unknown)
	for _, k := range unknown {
		if add(&Error{Code: ErrCodeUnknownKey, Path: k, Message: "unknown top-level key"}) {
			return errs
		}
	}

	reg := Schemas()
	if doc.Settings != nil {
		if ok, _ := reg.Check(SchemaSettings, doc.Settings); !ok {
			if add(&Error{Code: ErrCodeSchema, Path: KeySettings, Message: "does not match " + SchemaSettings}) {
				return errs
			}
		}
	}

	sections := []struct {
		schema  string
		entries []Entry
	}{
		{SchemaProperty, doc.Properties},
		{SchemaHack, doc.Hacks},
		{SchemaService, doc.Services},
		{SchemaShortcut, doc.Shortcuts},
	}
	for _, s := range sections {
		for _, e := range s.entries {
			ok, err := reg.Check(s.schema, e.Fields)
			if err != nil || !ok {
				if add(schemaError(e, s.schema, err)) {
					return errs
				}
			}
		}
	}
	return errs
}

func schemaError(e Entry, schema string, err error) *Error {
	return &Error{
		Code:    ErrCodeSchema,
		Path:    e.Path,
		Message: fmt.Sprintf("does not match %s%s", schema, describeMismatch(e.Fields, schema)),
		Pos:     e.Pos,
		Err:     err,
	}
}

// describeMismatch names the first offending field to make errors actionable.
func describeMismatch(fields map[string]any, schema string) string {
	shape := schemaShapes[schema]
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := shape[k]; !ok {
			return fmt.Sprintf(" (unexpected field %q)", k)
		}
	}
	reg := Schemas()
	names := make([]string, 0, len(shape))
	for k := range shape {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		ok, _ := reg.Check(shape[k], fields[k])
		if !ok {
			if _, present := fields[k]; !present {
				return fmt.Sprintf(" (missing field %q)", k)
			}
			return fmt.Sprintf(" (field %q must be %v)", k, shape[k])
		}
	}
	return ""
}

// schemaShapes are the closed shapes registered under the schema ids.
var schemaShapes = map[string]map[string]any{
	SchemaProperty: {
		"id":       "string",
		"label":    "?string",
		"type":     "?reactor.descriptor",
		"value":    "?*",
		"triggers": "?reactor.names",
		"dispatch": "?reactor.names",
		"clone":    "?boolean",
		"force":    "?boolean",
	},
	SchemaHack: {
		"triggers":    "reactor.names",
		"dispatch":    "?reactor.names",
		"set":         "?object",
		"request":     "?reactor.names",
		"log":         "?string",
		"description": "?string",
	},
	SchemaService: {
		"id":           "string",
		"url":          "string",
		"method":       "?string",
		"payload":      "?*",
		"headers":      "?reactor.strings",
		"content_type": "?string",
		"data_type":    "?string",
		"timeout":      "?string",
		"expect":       "?reactor.descriptor",
		"events":       "?reactor.names",
		"target":       "?string",
		"data_path":    "?string",
	},
	SchemaShortcut: {
		"key":         "string",
		"events":      "reactor.names",
		"data":        "?object",
		"description": "?string",
	},
	SchemaSettings: {
		"strict":         "?boolean",
		"max_depth":      "?number",
		"clone":          "?boolean",
		"merge_services": "?boolean",
	},
}

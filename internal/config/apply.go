package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/reactor/internal/reactor"
	"github.com/roach88/reactor/internal/types"
)

// LoadMode controls how errors are handled while validating and applying.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// SettingsOptions turns the settings section into instance options. Keys
// left out keep the root defaults.
func SettingsOptions(doc *Document) []reactor.Option {
	var opts []reactor.Option
	if v, ok := doc.Settings["strict"].(bool); ok {
		opts = append(opts, reactor.WithStrict(v))
	}
	if v, ok := toInt(doc.Settings["max_depth"]); ok {
		opts = append(opts, reactor.WithMaxDepth(v))
	}
	if v, ok := doc.Settings["clone"].(bool); ok {
		opts = append(opts, reactor.WithClone(v))
	}
	if v, ok := doc.Settings["merge_services"].(bool); ok {
		opts = append(opts, reactor.WithMergeServices(v))
	}
	return opts
}

// Build validates doc, creates the instance it names in root and applies
// the declarations. Caller options win over the settings section. name
// overrides the document name when not empty.
func Build(root *reactor.Root, doc *Document, name string, opts ...reactor.Option) (*reactor.Instance, error) {
	if errs := Validate(doc, LoadModeFailFast); len(errs) > 0 {
		return nil, errs[0]
	}
	if name == "" {
		name = doc.Name
	}
	if name == "" {
		name = "main"
	}

	all := append(SettingsOptions(doc), opts...)
	inst, err := root.NewInstance(name, all...)
	if err != nil {
		return nil, &Error{Code: ErrCodeRejected, Path: KeyName, Message: "creating instance", Err: err}
	}
	if errs := Apply(inst, doc, LoadModeFailFast); len(errs) > 0 {
		inst.Teardown()
		return nil, errs[0]
	}
	return inst, nil
}

// Apply registers the document's types, properties, services, hacks and
// shortcuts on inst, in that order. The document must already be valid.
func Apply(inst *reactor.Instance, doc *Document, mode LoadMode) []error {
	var errs []error
	add := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	ids := make([]string, 0, len(doc.Types))
	for id := range doc.Types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := inst.Types().Add(id, doc.Types[id]); err != nil {
			if add(&Error{Code: ErrCodeBadType, Path: KeyTypes + "." + id, Message: "registering type", Err: err}) {
				return errs
			}
		}
	}

	for _, e := range doc.Properties {
		if err := inst.AddProperty(propertySpec(e.Fields)); err != nil {
			if add(rejected(e, err)) {
				return errs
			}
		}
	}
	for _, e := range doc.Services {
		spec, err := serviceSpec(e.Fields)
		if err == nil {
			err = inst.AddService(spec)
		}
		if err != nil {
			if add(rejected(e, err)) {
				return errs
			}
		}
	}
	for _, e := range doc.Hacks {
		if err := inst.AddHack(hackSpec(inst, e.Fields)); err != nil {
			if add(rejected(e, err)) {
				return errs
			}
		}
	}
	for _, e := range doc.Shortcuts {
		if err := inst.AddShortcut(shortcutSpec(e.Fields)); err != nil {
			if add(rejected(e, err)) {
				return errs
			}
		}
	}
	return errs
}

func rejected(e Entry, err error) *Error {
	code := ErrCodeRejected
	if types.IsInvalidType(err) {
		code = ErrCodeBadType
	}
	var ce *reactor.ConfigError
	if errors.As(err, &ce) && ce.Code == reactor.ErrCodeInvalidType {
		code = ErrCodeBadType
	}
	return &Error{Code: code, Path: e.Path, Message: "registration rejected", Pos: e.Pos, Err: err}
}

func propertySpec(f map[string]any) reactor.PropertySpec {
	spec := reactor.PropertySpec{
		ID:       str(f, "id"),
		Label:    str(f, "label"),
		Type:     f["type"],
		Value:    f["value"],
		Triggers: strs(f, "triggers"),
		Dispatch: strs(f, "dispatch"),
	}
	if v, ok := f["clone"].(bool); ok {
		spec.Clone = &v
	}
	if v, ok := f["force"].(bool); ok {
		spec.Force = &v
	}
	return spec
}

func serviceSpec(f map[string]any) (reactor.ServiceSpec, error) {
	spec := reactor.ServiceSpec{
		ID:          str(f, "id"),
		URL:         str(f, "url"),
		Method:      str(f, "method"),
		Payload:     f["payload"],
		ContentType: str(f, "content_type"),
		DataType:    str(f, "data_type"),
		Expect:      f["expect"],
		Events:      strs(f, "events"),
		Target:      str(f, "target"),
		DataPath:    str(f, "data_path"),
	}
	if h, ok := f["headers"].(map[string]any); ok {
		spec.Headers = make(map[string]string, len(h))
		for k, v := range h {
			spec.Headers[k], _ = v.(string)
		}
	}
	if t := str(f, "timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return spec, fmt.Errorf("timeout: %w", err)
		}
		spec.Timeout = d
	}
	return spec, nil
}

// hackSpec builds a declarative hack. set writes properties, expanding
// {name} placeholders in string values from the triggering event's data and
// then from properties; request issues service calls with the event data as
// parameters; log writes an info line.
//
// An expanded value that the target property's type rejects as a string is
// decoded as JSON, so "{n}" can feed a number property.
func hackSpec(inst *reactor.Instance, f map[string]any) reactor.HackSpec {
	spec := reactor.HackSpec{
		Triggers:    strs(f, "triggers"),
		Dispatch:    strs(f, "dispatch"),
		Description: str(f, "description"),
	}
	set, _ := f["set"].(map[string]any)
	requests := strs(f, "request")
	msg := str(f, "log")
	if len(set) == 0 && len(requests) == 0 && msg == "" {
		return spec
	}

	spec.Action = func(s *reactor.Scope, ev reactor.Event) error {
		if msg != "" {
			s.Log(s.Expand(msg), "event", ev.Type)
		}
		if len(set) > 0 {
			values := make(map[string]any, len(set))
			for k, v := range set {
				if tmpl, ok := v.(string); ok {
					v = coerce(inst.Type(k), s.Expand(tmpl))
				}
				values[k] = v
			}
			s.Update(values)
		}
		for _, id := range requests {
			s.Request(id, ev.Data)
		}
		return nil
	}
	return spec
}

func coerce(t *types.Type, expanded string) any {
	if t == nil {
		return expanded
	}
	if ok, _ := t.Check(expanded); ok {
		return expanded
	}
	var v any
	if err := json.Unmarshal([]byte(expanded), &v); err != nil {
		return expanded
	}
	if ok, _ := t.Check(v); ok {
		return v
	}
	return expanded
}

func shortcutSpec(f map[string]any) reactor.ShortcutSpec {
	data, _ := f["data"].(map[string]any)
	return reactor.ShortcutSpec{
		Key:         str(f, "key"),
		Events:      strs(f, "events"),
		Data:        data,
		Description: str(f, "description"),
	}
}

func str(f map[string]any, key string) string {
	s, _ := f[key].(string)
	return s
}

func strs(f map[string]any, key string) []string {
	list, _ := f[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

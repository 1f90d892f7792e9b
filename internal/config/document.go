package config

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue/token"
)

// Section names accepted at the top level of a config file.
const (
	KeyName       = "name"
	KeySettings   = "settings"
	KeyTypes      = "types"
	KeyProperties = "properties"
	KeyHacks      = "hacks"
	KeyServices   = "services"
	KeyShortcuts  = "shortcuts"
)

var topLevelKeys = map[string]bool{
	KeyName: true, KeySettings: true, KeyTypes: true, KeyProperties: true,
	KeyHacks: true, KeyServices: true, KeyShortcuts: true,
}

// Entry is one declaration from a section, still in generic form.
type Entry struct {
	Path   string
	Pos    token.Pos
	Fields map[string]any
}

// Document is a decoded config file. Sections keep declaration order;
// properties are registered in that order.
type Document struct {
	Source     string
	Name       string
	Settings   map[string]any
	Types      map[string]any
	Properties []Entry
	Hacks      []Entry
	Services   []Entry
	Shortcuts  []Entry

	// unknown holds top-level keys no section claims.
	unknown []string
}

// Empty reports whether the document declares nothing.
func (d *Document) Empty() bool {
	return len(d.Properties) == 0 && len(d.Hacks) == 0 && len(d.Services) == 0 &&
		len(d.Shortcuts) == 0 && len(d.Types) == 0
}

// fromMap builds a document from a generic tree. Sections given as maps are
// converted to entries in sorted key order, with the key copied into the
// entry's id field (key for shortcuts, description for hacks) when absent.
func fromMap(source string, raw map[string]any) (*Document, []error) {
	doc := &Document{Source: source}
	var errs []error

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := raw[k]
		switch k {
		case KeyName:
			s, ok := v.(string)
			if !ok {
				errs = append(errs, &Error{Code: ErrCodeSchema, Path: k, Message: "name must be a string"})
				continue
			}
			doc.Name = s
		case KeySettings:
			m, ok := v.(map[string]any)
			if !ok {
				errs = append(errs, &Error{Code: ErrCodeSchema, Path: k, Message: "settings must be an object"})
				continue
			}
			doc.Settings = m
		case KeyTypes:
			m, ok := v.(map[string]any)
			if !ok {
				errs = append(errs, &Error{Code: ErrCodeSchema, Path: k, Message: "types must be an object"})
				continue
			}
			doc.Types = m
		case KeyProperties, KeyHacks, KeyServices, KeyShortcuts:
			entries, err := section(k, v)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			doc.setSection(k, entries)
		default:
			doc.unknown = append(doc.unknown, k)
		}
	}
	return doc, errs
}

func (d *Document) setSection(key string, entries []Entry) {
	switch key {
	case KeyProperties:
		d.Properties = entries
	case KeyHacks:
		d.Hacks = entries
	case KeyServices:
		d.Services = entries
	case KeyShortcuts:
		d.Shortcuts = entries
	}
}

// keyField is the field a map-form section key fills in.
func keyField(sectionKey string) string {
	switch sectionKey {
	case KeyShortcuts:
		return "key"
	case KeyHacks:
		return "description"
	}
	return "id"
}

func section(key string, v any) ([]Entry, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]Entry, 0, len(s))
		for i, item := range s {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &Error{Code: ErrCodeSchema, Path: fmt.Sprintf("%s[%d]", key, i), Message: "entry must be an object"}
			}
			out = append(out, Entry{Path: fmt.Sprintf("%s[%d]", key, i), Fields: m})
		}
		return out, nil
	case map[string]any:
		names := make([]string, 0, len(s))
		for name := range s {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]Entry, 0, len(s))
		for _, name := range names {
			e, err := namedEntry(key, name, s[name])
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	}
	return nil, &Error{Code: ErrCodeSchema, Path: key, Message: "section must be a list or an object"}
}

func namedEntry(key, name string, v any) (Entry, error) {
	path := key + "." + name
	m, ok := v.(map[string]any)
	if !ok {
		return Entry{}, &Error{Code: ErrCodeSchema, Path: path, Message: "entry must be an object"}
	}
	if f := keyField(key); f != "" {
		if _, set := m[f]; !set {
			copied := make(map[string]any, len(m)+1)
			for k, v := range m {
				copied[k] = v
			}
			copied[f] = name
			m = copied
		}
	}
	return Entry{Path: path, Fields: m}, nil
}

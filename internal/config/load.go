package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// Format names a config syntax.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
)

// FormatOf infers the format from a file extension. JSON is read as YAML.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, true
	case ".yaml", ".yml", ".json":
		return FormatYAML, true
	}
	return "", false
}

// Load reads a config file, or a directory holding one CUE package.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
	}
	if err != nil {
		return nil, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config: %v", err)}
	}
	if info.IsDir() {
		return loadCUEDir(path)
	}

	format, ok := FormatOf(path)
	if !ok {
		return nil, &Error{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unsupported config extension: %s", path)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeLoadFailed, Message: "reading config", Err: err}
	}
	return Parse(data, format, path)
}

// Parse decodes config source. source names the input in errors.
func Parse(data []byte, format Format, source string) (*Document, error) {
	switch format {
	case FormatCUE:
		ctx := cuecontext.New()
		v := ctx.CompileBytes(data, cue.Filename(source))
		if err := v.Err(); err != nil {
			return nil, &Error{Code: ErrCodeBuildFailed, Message: "building CUE value", Err: err}
		}
		return fromCUE(source, v)
	case FormatYAML:
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Code: ErrCodeLoadFailed, Message: "decoding YAML", Err: err}
		}
		if raw == nil {
			raw = map[string]any{}
		}
		doc, errs := fromMap(source, raw)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return doc, nil
	}
	return nil, &Error{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unknown format %q", format)}
}

// FindFiles walks dir and returns config file paths of any known format.
func FindFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if _, ok := FormatOf(path); ok && !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func loadCUEDir(dir string) (*Document, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &Error{Code: ErrCodeScanError, Message: "scanning directory", Err: err}
	}
	if len(files) == 0 {
		return nil, &Error{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &Error{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	if err := instances[0].Err; err != nil {
		return nil, &Error{Code: ErrCodeLoadFailed, Message: "loading CUE files", Err: err}
	}
	v := ctx.BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return nil, &Error{Code: ErrCodeBuildFailed, Message: "building CUE value", Err: err}
	}
	return fromCUE(dir, v)
}

// fromCUE walks the top-level fields. Sections keep CUE declaration order,
// which for struct-form sections is the order fields were written in.
func fromCUE(source string, v cue.Value) (*Document, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &Error{Code: ErrCodeBuildFailed, Message: "config must be concrete", Err: err, Pos: v.Pos()}
	}

	raw := make(map[string]any)
	sections := make(map[string][]Entry)
	iter, err := v.Fields()
	if err != nil {
		return nil, &Error{Code: ErrCodeLoadFailed, Message: "config must be a struct", Err: err, Pos: v.Pos()}
	}
	for iter.Next() {
		label := iter.Label()
		switch label {
		case KeyProperties, KeyHacks, KeyServices, KeyShortcuts:
			entries, err := cueSection(label, iter.Value())
			if err != nil {
				return nil, err
			}
			sections[label] = entries
		default:
			val, err := cueToGo(iter.Value())
			if err != nil {
				return nil, &Error{Code: ErrCodeLoadFailed, Path: label, Message: "decoding value", Err: err, Pos: iter.Value().Pos()}
			}
			raw[label] = val
		}
	}

	doc, errs := fromMap(source, raw)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	for key, entries := range sections {
		doc.setSection(key, entries)
	}
	return doc, nil
}

func cueSection(key string, v cue.Value) ([]Entry, error) {
	switch v.Kind() {
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, &Error{Code: ErrCodeLoadFailed, Path: key, Err: err, Message: "iterating list", Pos: v.Pos()}
		}
		var out []Entry
		for i := 0; list.Next(); i++ {
			path := fmt.Sprintf("%s[%d]", key, i)
			val, err := cueToGo(list.Value())
			if err != nil {
				return nil, &Error{Code: ErrCodeLoadFailed, Path: path, Message: "decoding value", Err: err, Pos: list.Value().Pos()}
			}
			m, ok := val.(map[string]any)
			if !ok {
				return nil, &Error{Code: ErrCodeSchema, Path: path, Message: "entry must be an object", Pos: list.Value().Pos()}
			}
			out = append(out, Entry{Path: path, Pos: list.Value().Pos(), Fields: m})
		}
		return out, nil

	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, &Error{Code: ErrCodeLoadFailed, Path: key, Err: err, Message: "iterating fields", Pos: v.Pos()}
		}
		var out []Entry
		for iter.Next() {
			val, err := cueToGo(iter.Value())
			if err != nil {
				return nil, &Error{Code: ErrCodeLoadFailed, Path: key + "." + iter.Label(), Message: "decoding value", Err: err, Pos: iter.Value().Pos()}
			}
			e, err := namedEntry(key, iter.Label(), val)
			if err != nil {
				return nil, err
			}
			e.Pos = iter.Value().Pos()
			out = append(out, e)
		}
		return out, nil
	}
	return nil, &Error{Code: ErrCodeSchema, Path: key, Message: "section must be a list or an object", Pos: v.Pos()}
}

// cueToGo converts a concrete CUE value into the generic tree the type
// system checks: map[string]any, []any, int, float64, string, bool, nil.
func cueToGo(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any)
		for iter.Next() {
			x, err := cueToGo(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Label(), err)
			}
			m[iter.Label()] = x
		}
		return m, nil
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, err
		}
		out := []any{}
		for i := 0; list.Next(); i++ {
			x, err := cueToGo(list.Value())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, x)
		}
		return out, nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return int(i), nil
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		return v.Bool()
	case cue.NullKind:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported CUE value kind %s", v.Kind())
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reactor/internal/reactor"
)

// Scenario is a scripted run of one instance.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the instance config file, relative to the scenario file.
	Config string `yaml:"config"`

	// Instance overrides the instance name from the config.
	Instance string `yaml:"instance,omitempty"`

	// Strict runs the instance in strict mode when set.
	Strict *bool `yaml:"strict,omitempty"`

	// TokenPrefix prefixes the deterministic loop tokens. Defaults to "loop".
	TokenPrefix string `yaml:"token_prefix,omitempty"`

	// Responses script the transport. Calls with no matching response fail.
	Responses []Response `yaml:"responses,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Response is a scripted transport reply, matched on method and URL.
type Response struct {
	Method string `yaml:"method,omitempty"`
	URL    string `yaml:"url"`
	Status int    `yaml:"status,omitempty"`
	Data   any    `yaml:"data,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Step submits one order. Exactly one of Update, Dispatch, Shortcut,
// Request or Order must be set.
type Step struct {
	Update   map[string]any `yaml:"update,omitempty"`
	Force    bool           `yaml:"force,omitempty"`
	Dispatch string         `yaml:"dispatch,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`
	Shortcut string         `yaml:"shortcut,omitempty"`
	Request  string         `yaml:"request,omitempty"`
	Params   map[string]any `yaml:"params,omitempty"`
	Order    *reactor.Order `yaml:"order,omitempty"`

	// Defer skips the Settle that normally follows the step.
	Defer bool `yaml:"defer,omitempty"`

	// Expect lists property values that must hold after the step.
	Expect map[string]any `yaml:"expect,omitempty"`

	// ExpectError is a fragment the step's error must contain. Without it
	// any error fails the scenario.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// order converts the step sugar into a reactor order.
func (s Step) order() reactor.Order {
	switch {
	case s.Order != nil:
		return *s.Order
	case s.Update != nil:
		return reactor.Order{Kind: reactor.OrderUpdate, Data: s.Update, Force: s.Force}
	case s.Dispatch != "":
		return reactor.Order{Kind: reactor.OrderEvent, Type: s.Dispatch, Data: s.Data}
	case s.Shortcut != "":
		return reactor.Order{Kind: reactor.OrderShortcut, Type: s.Shortcut}
	case s.Request != "":
		return reactor.Order{Kind: reactor.OrderRequest, Type: s.Request, Data: s.Params}
	}
	return reactor.Order{}
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Update != nil, s.Dispatch != "", s.Shortcut != "", s.Request != "", s.Order != nil} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates the trace or the final values.
type Assertion struct {
	Type     string         `yaml:"type"`
	Property string         `yaml:"property,omitempty"`
	Equals   any            `yaml:"equals,omitempty"`
	Event    string         `yaml:"event,omitempty"`
	Events   []string       `yaml:"events,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`
	Count    *int           `yaml:"count,omitempty"`
	Depth    int            `yaml:"depth,omitempty"`
	Code     string         `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertValue        = "value"
	AssertEventCount   = "event_count"
	AssertEventOrder   = "event_order"
	AssertEventEmitted = "event_emitted"
	AssertNoEvent      = "no_event"
	AssertMaxDepth     = "max_depth"
	AssertSoftError    = "soft_error"
)

// LoadScenario reads and parses a scenario file. The config path is
// resolved relative to the scenario's directory. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Config != "" && !filepath.IsAbs(s.Config) {
		s.Config = filepath.Join(filepath.Dir(path), s.Config)
	}
	if _, err := os.Stat(s.Config); err != nil {
		return nil, fmt.Errorf("invalid scenario: config not found: %s", s.Config)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML. The config path is
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of update, dispatch, shortcut, request, order is required (got %d)", i, n)
		}
	}
	for i, r := range s.Responses {
		if r.URL == "" {
			return fmt.Errorf("responses[%d]: url is required", i)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Type {
	case AssertValue:
		if a.Property == "" {
			return fmt.Errorf("assertions[%d]: property is required for value", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventEmitted, AssertNoEvent:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for %s", index, a.Type)
		}
	case AssertMaxDepth:
		if a.Depth <= 0 {
			return fmt.Errorf("assertions[%d]: depth must be positive for max_depth", index)
		}
	case AssertSoftError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for soft_error", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

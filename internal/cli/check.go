package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reactor/internal/config"
	"github.com/roach88/reactor/internal/reactor"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	FailOnCycles bool
}

// PropertyInfo describes a declared property.
type PropertyInfo struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Type       string   `json:"type"`
	Triggers   []string `json:"triggers,omitempty"`
	Dispatches []string `json:"dispatches,omitempty"`
}

// EventInfo describes how an event is wired: the properties it feeds, the
// hacks it triggers and what they dispatch, the properties and hacks that
// dispatch it and the shortcut keys bound to it.
type EventInfo struct {
	Name       string   `json:"name"`
	Feeds      []string `json:"feeds,omitempty"`
	Hacks      []string `json:"hacks,omitempty"`
	Dispatches []string `json:"dispatches,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	HackedBy   []string `json:"hacked_by,omitempty"`
	Shortcuts  []string `json:"shortcuts,omitempty"`
}

// CheckResult is the wiring report of a config.
type CheckResult struct {
	Instance   string                `json:"instance"`
	Properties []PropertyInfo        `json:"properties"`
	Events     []EventInfo           `json:"events"`
	Services   []string              `json:"services"`
	Cycles     []config.CycleWarning `json:"cycles"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <config>",
		Short: "Report the wiring of a config and its event loops",
		Long: `Build a config on a scratch instance and report its wiring: which
events feed which properties, which hacks they trigger and what those
dispatch. Event loops are reported as warnings; a loop that keeps
changing values runs until the max depth is exceeded.

Exit codes:
  0 - config valid (loops are warnings unless --fail-on-cycles)
  1 - invalid config, or loops found with --fail-on-cycles
  2 - config not readable`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.FailOnCycles, "fail-on-cycles", false, "exit 1 when event loops are found")
	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	doc, err := config.Load(path)
	if err != nil {
		return outputLoadError(f, err)
	}
	if issues := validateDocument(doc); len(issues) > 0 {
		return outputValidationIssues(f, issues)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	inst, err := config.Build(reactor.NewRoot(), doc, "", reactor.WithLogger(quiet))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build instance", err)
	}
	defer inst.Teardown()

	result := buildCheckResult(inst)
	result.Cycles = config.AnalyzeCycles(doc)

	var failure error
	if opts.FailOnCycles && len(result.Cycles) > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d event loop(s) found", len(result.Cycles)))
	}
	if f.JSON() {
		if failure != nil {
			if err := f.Failure(result, "E120", failure.Error()); err != nil {
				return err
			}
			return failure
		}
		return f.Success(result)
	}
	outputCheckText(f.Writer, result)
	return failure
}

func buildCheckResult(inst *reactor.Instance) CheckResult {
	result := CheckResult{
		Instance: inst.Name(),
		Services: inst.Services(),
	}

	events := make(map[string]*EventInfo)
	event := func(name string) *EventInfo {
		if ev, ok := events[name]; ok {
			return ev
		}
		ev := &EventInfo{Name: name}
		events[name] = ev
		return ev
	}

	for _, id := range inst.Properties() {
		typ := "untyped"
		if t := inst.Type(id); t != nil {
			typ = t.String()
		}
		info := PropertyInfo{
			ID:         id,
			Label:      inst.Label(id),
			Type:       typ,
			Triggers:   inst.TriggeringEvents(id),
			Dispatches: inst.DispatchingEvents(id),
		}
		result.Properties = append(result.Properties, info)
		for _, name := range info.Triggers {
			ev := event(name)
			ev.Feeds = append(ev.Feeds, id)
		}
		for _, name := range info.Dispatches {
			ev := event(name)
			ev.Sources = append(ev.Sources, id)
		}
	}

	hacks := inst.Hacks()
	for _, name := range hacks.Triggers() {
		ev := event(name)
		ev.Hacks = hacks.Describe(name)
		ev.Dispatches = hacks.Dispatches(name)
		for _, d := range ev.Dispatches {
			target := event(d)
			target.HackedBy = hacks.DispatchedBy(d)
		}
	}
	for _, sc := range inst.Shortcuts() {
		for _, name := range sc.Events {
			ev := event(name)
			if !slices.Contains(ev.Shortcuts, sc.Key) {
				ev.Shortcuts = append(ev.Shortcuts, sc.Key)
			}
		}
	}

	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		result.Events = append(result.Events, *events[name])
	}
	if result.Properties == nil {
		result.Properties = []PropertyInfo{}
	}
	if result.Events == nil {
		result.Events = []EventInfo{}
	}
	if result.Services == nil {
		result.Services = []string{}
	}
	return result
}

func outputCheckText(w io.Writer, r CheckResult) {
	fmt.Fprintf(w, "Instance: %s\n\n", r.Instance)

	fmt.Fprintf(w, "Properties (%d):\n", len(r.Properties))
	for _, p := range r.Properties {
		fmt.Fprintf(w, "  %s : %s", p.ID, p.Type)
		if p.Label != "" && p.Label != p.ID {
			fmt.Fprintf(w, " (%s)", p.Label)
		}
		fmt.Fprintln(w)
		if len(p.Triggers) > 0 {
			fmt.Fprintf(w, "    <- %s\n", strings.Join(p.Triggers, ", "))
		}
		if len(p.Dispatches) > 0 {
			fmt.Fprintf(w, "    -> %s\n", strings.Join(p.Dispatches, ", "))
		}
	}

	fmt.Fprintf(w, "\nEvents (%d):\n", len(r.Events))
	for _, ev := range r.Events {
		fmt.Fprintf(w, "  %s\n", ev.Name)
		line := func(label string, items []string) {
			if len(items) > 0 {
				fmt.Fprintf(w, "    %-10s %s\n", label, strings.Join(items, ", "))
			}
		}
		line("feeds", ev.Feeds)
		line("hacks", ev.Hacks)
		line("dispatches", ev.Dispatches)
		line("from", append(append([]string(nil), ev.Sources...), ev.HackedBy...))
		line("keys", ev.Shortcuts)
	}

	if len(r.Services) > 0 {
		fmt.Fprintf(w, "\nServices: %s\n", strings.Join(r.Services, ", "))
	}

	if len(r.Cycles) == 0 {
		fmt.Fprintln(w, "\n✓ No event loops")
		return
	}
	fmt.Fprintf(w, "\n⚠ %d event loop(s):\n", len(r.Cycles))
	for _, c := range r.Cycles {
		fmt.Fprintf(w, "  %s\n", c.Message)
	}
}

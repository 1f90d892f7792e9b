package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reactor/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal  string
	Instance string
	Loop     int64
	Token    string
	Errors   bool
}

// TraceStats summarises the selected passes.
type TraceStats struct {
	Passes     int `json:"passes"`
	Loops      int `json:"loops"`
	MaxDepth   int `json:"max_depth"`
	Updates    int `json:"updates"`
	Dispatched int `json:"dispatched"`
	Services   int `json:"services"`
	SoftErrors int `json:"soft_errors"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Instance   string                   `json:"instance,omitempty"`
	Passes     []journal.Entry          `json:"passes"`
	SoftErrors []journal.SoftErrorEntry `json:"soft_errors,omitempty"`
	Stats      TraceStats               `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show passes recorded in a journal",
		Long: `Show the passes recorded in a SQLite journal written by run, serve or
test. Select one loop with --loop (per instance) or --token, or list
everything recorded for an instance.

Examples:
  reactor trace --journal ./trace.db
  reactor trace --journal ./trace.db --instance counter --loop 2
  reactor trace --journal ./trace.db --token 0190a6e2-...
  reactor trace --journal ./trace.db --errors --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "only passes of this instance")
	cmd.Flags().Int64Var(&opts.Loop, "loop", 0, "only this loop id (requires --instance)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "only the loop with this token")
	cmd.Flags().BoolVar(&opts.Errors, "errors", false, "include soft errors")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Loop != 0 && opts.Instance == "" {
		return NewExitError(ExitCommandError, "--loop requires --instance")
	}
	if opts.Loop != 0 && opts.Token != "" {
		return NewExitError(ExitCommandError, "--loop and --token are exclusive")
	}
	// Open creates missing files; a typo should not leave an empty journal.
	if _, err := os.Stat(opts.Journal); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	result, err := loadTrace(cmd.Context(), j, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if f.JSON() {
		return f.Success(result)
	}
	outputTraceText(f.Writer, result, opts.Verbose)
	return nil
}

func loadTrace(ctx context.Context, j *journal.Journal, opts *TraceOptions) (TraceResult, error) {
	result := TraceResult{Instance: opts.Instance}

	var err error
	switch {
	case opts.Token != "":
		result.Passes, err = j.Token(ctx, opts.Token)
	case opts.Loop != 0:
		result.Passes, err = j.Loop(ctx, opts.Instance, opts.Loop)
	default:
		result.Passes, err = j.Passes(ctx, opts.Instance)
	}
	if err != nil {
		return result, err
	}
	if opts.Errors {
		result.SoftErrors, err = j.SoftErrors(ctx, opts.Instance)
		if err != nil {
			return result, err
		}
	}
	result.Stats = traceStats(result)
	return result, nil
}

func traceStats(r TraceResult) TraceStats {
	s := TraceStats{Passes: len(r.Passes), SoftErrors: len(r.SoftErrors)}
	loops := make(map[string]bool)
	for _, p := range r.Passes {
		loops[fmt.Sprintf("%s/%d", p.Instance, p.LoopID)] = true
		s.MaxDepth = max(s.MaxDepth, p.Depth)
		s.Updates += len(p.Updates)
		s.Dispatched += len(p.Dispatched)
		s.Services += len(p.Services)
	}
	s.Loops = len(loops)
	return s
}

func outputTraceText(w io.Writer, r TraceResult, verbose bool) {
	if len(r.Passes) == 0 && len(r.SoftErrors) == 0 {
		fmt.Fprintln(w, "No passes recorded.")
		return
	}

	lastLoop := ""
	for _, p := range r.Passes {
		loop := fmt.Sprintf("%s/%d", p.Instance, p.LoopID)
		if loop != lastLoop {
			fmt.Fprintf(w, "%s loop %d  token=%s  emitter=%s\n", p.Instance, p.LoopID, p.Token, p.Emitter)
			lastLoop = loop
		}
		fmt.Fprintf(w, "  depth %d", p.Depth)
		if len(p.Updates) > 0 {
			parts := make([]string, len(p.Updates))
			for i, u := range p.Updates {
				data, err := journal.MarshalCanonical(u.Value)
				if err != nil {
					data = []byte("?")
				}
				parts[i] = u.ID + "=" + string(data)
			}
			fmt.Fprintf(w, "  updates=[%s]", strings.Join(parts, " "))
		}
		if len(p.Dispatched) > 0 {
			fmt.Fprintf(w, "  dispatched=[%s]", strings.Join(p.Dispatched, " "))
		}
		if len(p.Services) > 0 {
			fmt.Fprintf(w, "  services=[%s]", strings.Join(p.Services, " "))
		}
		if verbose {
			if len(p.Events) > 0 {
				fmt.Fprintf(w, "  events=[%s]", strings.Join(p.Events, " "))
			}
			if len(p.Skipped) > 0 {
				fmt.Fprintf(w, "  skipped=[%s]", strings.Join(p.Skipped, " "))
			}
			if p.Hacks > 0 {
				fmt.Fprintf(w, "  hacks=%d", p.Hacks)
			}
		}
		fmt.Fprintln(w)
	}

	for _, e := range r.SoftErrors {
		fmt.Fprintf(w, "soft error %s %s: %s\n", e.Instance, e.Code, e.Message)
	}

	s := r.Stats
	fmt.Fprintf(w, "\n%d pass(es) in %d loop(s), max depth %d, %d update(s), %d dispatch(es)\n",
		s.Passes, s.Loops, s.MaxDepth, s.Updates, s.Dispatched)
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/reactor/internal/config"
	"github.com/roach88/reactor/internal/reactor"
)

// ValidationIssue is one problem found in a config.
type ValidationIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a config without running it",
		Long: `Validate a CUE or YAML config (file or CUE package directory).

Every section entry is checked against its schema type, then the whole
config is registered on a scratch instance so that duplicate ids, bad
type descriptors and dangling references are reported too. All problems
are collected before reporting.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	doc, err := config.Load(path)
	if err != nil {
		return outputLoadError(f, err)
	}
	f.VerboseLog("loaded %s: %d properties, %d hacks, %d services, %d shortcuts",
		doc.Source, len(doc.Properties), len(doc.Hacks), len(doc.Services), len(doc.Shortcuts))

	issues := validateDocument(doc)
	if len(issues) > 0 {
		return outputValidationIssues(f, issues)
	}
	if f.JSON() {
		return f.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintln(f.Writer, "✓ Config valid")
	return nil
}

// validateDocument runs the schema checks and, when they pass, a scratch
// registration.
func validateDocument(doc *config.Document) []ValidationIssue {
	if errs := config.Validate(doc, config.LoadModeCollectAll); len(errs) > 0 {
		return toIssues(errs)
	}

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	name := doc.Name
	if name == "" {
		name = "validate"
	}
	inst, err := reactor.NewRoot().NewInstance(name,
		append(config.SettingsOptions(doc), reactor.WithLogger(quiet))...)
	if err != nil {
		return toIssues([]error{err})
	}
	defer inst.Teardown()
	return toIssues(config.Apply(inst, doc, config.LoadModeCollectAll))
}

func toIssues(errs []error) []ValidationIssue {
	issues := make([]ValidationIssue, 0, len(errs))
	for _, err := range errs {
		var ce *config.Error
		if !errors.As(err, &ce) {
			issues = append(issues, ValidationIssue{Code: config.ErrCodeGeneric, Message: err.Error()})
			continue
		}
		msg := ce.Message
		if ce.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, ce.Err)
		}
		issue := ValidationIssue{Code: ce.Code, Path: ce.Path, Message: msg}
		if ce.Pos.IsValid() {
			issue.File = ce.Pos.Filename()
			issue.Line = ce.Pos.Line()
		}
		issues = append(issues, issue)
	}
	return issues
}

// outputLoadError reports a config that could not be read at all. That is
// a command error (exit 2).
func outputLoadError(f *OutputFormatter, err error) error {
	code := config.ErrCodeGeneric
	var ce *config.Error
	if errors.As(err, &ce) {
		code = ce.Code
	}
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to load config", err)
}

func outputValidationIssues(f *OutputFormatter, issues []ValidationIssue) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	if f.JSON() {
		if err := f.Failure(ValidationResult{Valid: false, Errors: issues}, issues[0].Code, issues[0].Message); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)
	for _, is := range issues {
		if is.Line > 0 {
			fmt.Fprintf(f.Writer, "%s:%d\n", is.File, is.Line)
		}
		if is.Path != "" {
			fmt.Fprintf(f.Writer, "  %s: %s: %s\n\n", is.Code, is.Path, is.Message)
		} else {
			fmt.Fprintf(f.Writer, "  %s: %s\n\n", is.Code, is.Message)
		}
	}
	return exitErr
}

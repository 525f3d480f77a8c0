package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"arbiter/internal/compiler"
)

// ValidationResult holds the outcome of validating a rule manifest.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Rules  int               `json:"rules"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one manifest problem with its source position.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest.cue>",
		Short: "Validate a rule manifest without running it",
		Long: `Compile a CUE rule manifest and report any problems.

Checks syntax, required fields, effect kinds, and value types without
building a catalog or touching any state.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, manifestPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, err := compiler.LoadFile(manifestPath)
	if err != nil {
		issue := ValidationIssue{Field: "manifest", Message: err.Error()}
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			issue.Field = ce.Field
			issue.Message = ce.Message
			if ce.Pos.IsValid() {
				issue.Line = ce.Pos.Line()
			}
		}
		return outputValidationFailure(formatter, issue)
	}

	formatter.VerboseLog("compiled %d rule(s) from %s", len(defs), manifestPath)

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Rules: len(defs)})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d rule(s) valid\n", len(defs))
	return nil
}

func outputValidationFailure(formatter *OutputFormatter, issue ValidationIssue) error {
	if formatter.Format == "json" {
		_ = formatter.Error("E_MANIFEST", issue.Message, ValidationResult{
			Valid:  false,
			Errors: []ValidationIssue{issue},
		})
		return NewExitError(ExitFailure, "manifest validation failed")
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	if issue.Line > 0 {
		fmt.Fprintf(formatter.Writer, "  line %d\n", issue.Line)
	}
	fmt.Fprintf(formatter.Writer, "  %s: %s\n", issue.Field, issue.Message)
	return NewExitError(ExitFailure, "manifest validation failed")
}

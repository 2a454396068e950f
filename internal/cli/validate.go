package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/compiler"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidateResult is the data payload of a validate run.
type ValidateResult struct {
	Contracts int                        `json:"contracts"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
	Warnings  []compiler.GraphWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <contracts.cue>",
		Short: "Validate contracts without running anything",
		Long: `Validate CUE contracts statically.

Checks contract shape (initial/terminal events, pairing symmetry, transition
references, golden path membership, field types) and analyzes the transition
graph. Exit code 1 when validation errors are found, 2 when the file cannot
be compiled at all.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	contracts, err := compiler.LoadContracts(path)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeCompile, err.Error(), nil)
	}

	result := ValidateResult{Contracts: len(contracts)}
	for _, contract := range contracts {
		result.Errors = append(result.Errors, compiler.Validate(contract)...)
		result.Warnings = append(result.Warnings, compiler.AnalyzeGraph(contract)...)
	}

	if len(result.Errors) > 0 {
		details := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			details = append(details, e.Error())
		}
		return formatter.Error(ExitFailure, ErrCodeValidateFailed,
			fmt.Sprintf("%d validation error(s)", len(result.Errors)), details)
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}

	formatter.Textf("%d contract(s) valid\n", result.Contracts)
	for _, warning := range result.Warnings {
		formatter.Textf("warning: %s\n", warning.Message)
	}

	return nil
}

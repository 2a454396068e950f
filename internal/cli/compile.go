package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/compiler"
	"github.com/roach88/goldenpath/internal/record"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// CompileResult is the data payload of a successful compile.
type CompileResult struct {
	Contracts []*record.Contract      `json:"contracts"`
	Warnings  []compiler.GraphWarning `json:"warnings,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <contracts.cue>",
		Short: "Compile CUE contracts to canonical IR",
		Long: `Compile CUE contract declarations to the canonical IR the engine runs.

The compiler parses the CUE file, checks the contract shape, and prints the
IR as JSON. Transition-graph analysis (unreachable events, dead ends,
non-terminating cycles) is reported as warnings, not errors.

Examples:
  goldenpath compile contracts/agentchat.cue
  goldenpath compile contracts/agentchat.cue -o ir.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write IR JSON to file instead of stdout")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	contracts, err := compiler.LoadContracts(path)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeCompile, err.Error(), nil)
	}

	result := CompileResult{Contracts: contracts}
	for _, contract := range contracts {
		result.Warnings = append(result.Warnings, compiler.AnalyzeGraph(contract)...)
	}

	irJSON, err := json.MarshalIndent(result.Contracts, "", "  ")
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeIO, "encode IR: "+err.Error(), nil)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, append(irJSON, '\n'), 0o644); err != nil {
			return formatter.Error(ExitCommandError, ErrCodeIO, "write output: "+err.Error(), nil)
		}
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}

	if opts.Output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(irJSON))
	} else {
		formatter.Textf("compiled %d contract(s) to %s\n", len(contracts), opts.Output)
	}
	for _, warning := range result.Warnings {
		formatter.Textf("warning: %s\n", warning.Message)
	}

	return nil
}

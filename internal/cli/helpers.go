package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/compiler"
	"github.com/roach88/goldenpath/internal/record"
	"github.com/roach88/goldenpath/internal/store"
)

// newFormatter builds the per-command output formatter from the root flags.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
}

// openStore opens the database or returns a command error.
func openStore(f *OutputFormatter, path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, f.Error(ExitCommandError, ErrCodeIO, "open database: "+err.Error(), nil)
	}
	return st, nil
}

// loadContract loads exactly one contract from a CUE file.
func loadContract(f *OutputFormatter, path string) (*record.Contract, error) {
	contract, err := compiler.LoadContract(path)
	if err != nil {
		return nil, f.Error(ExitCommandError, ErrCodeCompile, "load contract: "+err.Error(), nil)
	}
	return contract, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

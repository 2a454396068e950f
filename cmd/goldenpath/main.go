package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/goldenpath/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cmd := cli.NewRootCommand()
	cmd.SetArgs(args)
	err := cmd.Execute()

	// Command errors already rendered themselves through the output
	// formatter; only cobra's own errors (bad flags, unknown commands)
	// still need a line on stderr.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(stderr, err)
	}
	return cli.GetExitCode(err)
}

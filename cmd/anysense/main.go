// Package main provides the anysense CLI entrypoint.
//
// Usage:
//
//	anysense <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: runtime failure
//   - 2: invalid configuration or usage
//   - 3: recording finalized with output errors
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/NYU-robot-learning/AnySense/cli/cmd"
	"github.com/NYU-robot-learning/AnySense/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "anysense",
		Usage:          "RGB-D capture: record sessions, stream packets, manage recordings",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler(os.Stderr, os.Exit),
		Commands:       cmd.Commands(commit),
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit and prints the message
// when there is one.
func exitErrHandler(stderr io.Writer, exit func(int)) cli.ExitErrHandlerFunc {
	return func(_ *cli.Context, err error) {
		if err == nil {
			return
		}

		var exitCoder cli.ExitCoder
		if errors.As(err, &exitCoder) {
			code := exitCoder.ExitCode()
			msg := exitCoder.Error()

			// cli.Exit("", N).Error() is empty or "exit status N"; skip those.
			if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
				fmt.Fprintln(stderr, msg)
			}
			exit(code)
			return
		}

		fmt.Fprintf(stderr, "Error: %v\n", err)
		exit(1)
	}
}

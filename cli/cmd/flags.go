// Package cmd provides CLI commands for the anysense binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/NYU-robot-learning/AnySense/cli/config"
)

// Exit codes.
const (
	exitSuccess = 0
	// exitFailure covers runtime failures: the pipeline could not start or
	// a command could not complete.
	exitFailure = 1
	// exitConfig is returned for invalid configuration or usage.
	exitConfig = 2
	// exitPartial is returned when a recording was finalized but one of its
	// outputs reported an error.
	exitPartial = 3
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for sessions inspect and sessions stats.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}

	// ConfigFlag points at an anysense.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default ./" + config.DefaultFile + " when present)",
		EnvVars: []string{"ANYSENSE_CONFIG"},
	}

	// OutputDirFlag overrides output_dir.
	OutputDirFlag = &cli.StringFlag{
		Name:    "output-dir",
		Aliases: []string{"o"},
		Usage:   "Directory holding recorded sessions",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// CatalogFlags returns the flags for commands that read the session catalog.
func CatalogFlags() []cli.Flag {
	return append(ReadOnlyFlags(), ConfigFlag, OutputDirFlag)
}

// PipelineFlags returns the flags shared by commands that run the capture
// pipeline. Each overrides the matching config field when set.
func PipelineFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		OutputDirFlag,
		&cli.IntFlag{
			Name:  "fps",
			Usage: "Pump rate in frames per second",
		},
		&cli.StringFlag{
			Name:  "source",
			Usage: "Capture source: synthetic or webcam",
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "Capture device for the webcam source",
		},
		&cli.StringFlag{
			Name:  "depth",
			Usage: "Synthetic depth mode: none, ready, late, never",
		},
		&cli.StringFlag{
			Name:  "orientation",
			Usage: "Interface orientation: portrait, portrait_upside_down, landscape_left, landscape_right",
		},
		&cli.BoolFlag{
			Name:  "color-map",
			Usage: "Render depth through the false-colour gradient",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/NYU-robot-learning/AnySense/cli/reader"
	"github.com/NYU-robot-learning/AnySense/cli/render"
	"github.com/NYU-robot-learning/AnySense/cli/tui"
	"github.com/NYU-robot-learning/AnySense/session"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// SessionsCommand returns the sessions command with subcommands.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect and manage recorded sessions",
		Subcommands: []*cli.Command{
			sessionsListCommand(),
			sessionsInspectCommand(),
			sessionsStatsCommand(),
			sessionsDeleteLastCommand(),
		},
	}
}

// openCatalog resolves the output directory from config and flags.
func openCatalog(c *cli.Context) (*session.Catalog, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfig)
	}
	return session.NewCatalog(cfg.OutputDir), nil
}

func sessionsListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List sessions, newest first",
		Flags: append(CatalogFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of sessions to return (0 = no limit)",
			},
		),
		Action: sessionsListAction,
	}
}

func sessionsListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for sessions list", exitConfig)
	}
	cat, err := openCatalog(c)
	if err != nil {
		return err
	}

	limit := c.Int("limit")
	items, err := reader.NewCatalogReader(cat).List(limit)
	if err != nil {
		return cli.Exit(fmt.Sprintf("list sessions: %v", err), exitFailure)
	}
	// TTY only, to keep pipelines quiet.
	if len(items) > listWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(c.App.ErrWriter, "Warning: returning %d sessions. Consider using --limit to reduce output.\n\n", len(items))
	}
	return r.Render(items)
}

func sessionsInspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect one session (default: the latest)",
		ArgsUsage: "[session]",
		Flags:     CatalogFlags(),
		Action:    sessionsInspectAction,
	}
}

func sessionsInspectAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cat, err := openCatalog(c)
	if err != nil {
		return err
	}

	name := c.Args().First()
	if name == "" {
		latest, err := cat.Latest()
		if err != nil {
			return notFound(err)
		}
		name = latest.Name
	}
	details, err := reader.NewCatalogReader(cat).Inspect(name)
	if err != nil {
		return notFound(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectSession, details)
	}
	return r.Render(details)
}

func sessionsStatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Aggregate counters across every session",
		Flags:  CatalogFlags(),
		Action: sessionsStatsAction,
	}
}

func sessionsStatsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cat, err := openCatalog(c)
	if err != nil {
		return err
	}
	stats, err := reader.NewCatalogReader(cat).Stats()
	if err != nil {
		return cli.Exit(fmt.Sprintf("session stats: %v", err), exitFailure)
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewSessionStats, stats)
	}
	return r.Render(stats)
}

func sessionsDeleteLastCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-last",
		Usage: "Delete the most recent session",
		Flags: append(CatalogFlags(),
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm the deletion",
			},
		),
		Action: sessionsDeleteLastAction,
	}
}

func sessionsDeleteLastAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for sessions delete-last", exitConfig)
	}
	cat, err := openCatalog(c)
	if err != nil {
		return err
	}
	if !c.Bool("yes") {
		latest, err := cat.Latest()
		if err != nil {
			return notFound(err)
		}
		return cli.Exit(fmt.Sprintf("refusing to delete %s without --yes", latest.Name), exitConfig)
	}
	entry, err := cat.DeleteLatest()
	if err != nil {
		return notFound(err)
	}
	return r.Render(entry)
}

// notFound maps catalog lookups to exit codes.
func notFound(err error) error {
	if errors.Is(err, session.ErrNoSessions) || errors.Is(err, session.ErrNotFound) {
		return cli.Exit(err.Error(), exitFailure)
	}
	return cli.Exit(fmt.Sprintf("read session: %v", err), exitFailure)
}

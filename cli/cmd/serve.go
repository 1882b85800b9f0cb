package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/NYU-robot-learning/AnySense/server"
)

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the capture pipeline behind the HTTP control API",
		Flags: append(PipelineFlags(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address for the control API",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Bearer token required by the control API",
				EnvVars: []string{"ANYSENSE_TOKEN"},
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfig)
	}
	if v := c.String("token"); v != "" {
		cfg.Server.Token = v
	}

	p, err := BuildPipeline(cfg, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to build pipeline: %v", err), exitFailure)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(p.Controller, p.Catalog, p.Metrics, server.Options{
		Token:  cfg.Server.Token,
		Logger: p.Logger,
	})

	p.Logger.Sugar().Infof("serving control API on %s (token required: %t)", cfg.Server.Addr, cfg.Server.Token != "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Any active recording is finalized before exit.
		return p.Close(context.WithoutCancel(gctx))
	})
	if err := g.Wait(); err != nil {
		return cli.Exit(fmt.Sprintf("serve: %v", err), exitFailure)
	}
	return nil
}

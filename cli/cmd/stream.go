package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/NYU-robot-learning/AnySense/cli/render"
)

// StreamCommand returns the stream command.
func StreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream packets to a receiver until interrupted or --duration elapses",
		Flags: append(PipelineFlags(),
			&cli.StringFlag{
				Name:  "transport",
				Usage: "Link kind: tcp, udp, serial, stub",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "Receiver address (host:port) or serial device",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 = until SIGINT/SIGTERM)",
			},
			FormatFlag,
			NoColorFlag,
		),
		Action: streamAction,
	}
}

func streamAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfig)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	p, err := BuildPipeline(cfg, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to build pipeline: %v", err), exitFailure)
	}
	defer func() { _ = p.Close(context.Background()) }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Controller.StartStreaming(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("failed to start streaming: %v", err), exitFailure)
	}
	p.Logger.Info("streaming", map[string]any{
		"transport": cfg.Transport.Kind,
		"address":   cfg.Transport.Address,
	})

	wait(ctx, c.Duration("duration"))

	if err := p.Controller.StopStreaming(context.WithoutCancel(ctx)); err != nil {
		return cli.Exit(fmt.Sprintf("failed to stop streaming: %v", err), exitFailure)
	}
	return r.Render(p.Metrics.Snapshot())
}

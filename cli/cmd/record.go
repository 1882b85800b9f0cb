package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/NYU-robot-learning/AnySense/cli/render"
	"github.com/NYU-robot-learning/AnySense/recording"
	"github.com/NYU-robot-learning/AnySense/session"
)

// RecordResult summarizes one finished recording.
type RecordResult struct {
	Session          string        `json:"session" yaml:"session"`
	Dir              string        `json:"dir" yaml:"dir"`
	Duration         time.Duration `json:"duration" yaml:"duration"`
	Depth            bool          `json:"depth" yaml:"depth"`
	session.Counters `json:",inline" yaml:",inline"`
	Error            string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RecordCommand returns the record command.
func RecordCommand() *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Record one session until interrupted or --duration elapses",
		Flags: append(PipelineFlags(),
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "Stop after this long (0 = until SIGINT/SIGTERM)",
			},
			FormatFlag,
			NoColorFlag,
		),
		Action: recordAction,
	}
}

func recordAction(c *cli.Context) error {
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

	layout, err := p.Controller.StartRecording(ctx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to start recording: %v", err), exitFailure)
	}
	p.Logger.Info("recording", map[string]any{"session": layout.Name, "dir": layout.Dir})

	wait(ctx, c.Duration("duration"))

	summary, stopErr := p.Controller.StopRecording(context.WithoutCancel(ctx))
	if summary == nil {
		if stopErr == nil {
			stopErr = errors.New("no session summary")
		}
		return cli.Exit(fmt.Sprintf("failed to stop recording: %v", stopErr), exitFailure)
	}

	res := recordResult(summary)
	if stopErr != nil {
		res.Error = stopErr.Error()
	}
	if err := r.Render(res); err != nil {
		return err
	}
	if stopErr != nil {
		return cli.Exit("", exitPartial)
	}
	return nil
}

func recordResult(s *recording.Summary) RecordResult {
	return RecordResult{
		Session:  s.Layout.Name,
		Dir:      s.Layout.Dir,
		Duration: s.Duration(),
		Depth:    s.Depth,
		Counters: s.Counters,
	}
}

// wait blocks until ctx is done or d elapses. A zero d waits for ctx only.
func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/NYU-robot-learning/AnySense/archive"
	"github.com/NYU-robot-learning/AnySense/cli/config"
	"github.com/NYU-robot-learning/AnySense/cli/render"
	"github.com/NYU-robot-learning/AnySense/iox"
	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/session"
)

// ArchiveCommand returns the archive command.
func ArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "Copy a session into the archive dataset (default: the latest)",
		ArgsUsage: "[session]",
		Flags: append(CatalogFlags(),
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Archive backend: fs or s3",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Archive location (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "AWS region for the s3 backend (optional, uses default chain)",
			},
		),
		Action: archiveAction,
	}
}

func archiveAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for archive", exitConfig)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfig)
	}
	if v := c.String("backend"); v != "" {
		cfg.Archive.Backend = v
	}
	if v := c.String("path"); v != "" {
		cfg.Archive.Path = v
	}
	if v := c.String("region"); v != "" {
		cfg.Archive.Region = v
	}

	logger, err := log.New(log.Options{Level: cfg.Log.Level, Output: c.App.ErrWriter})
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}
	defer iox.DiscardErr(logger.Sync)

	arc, err := openArchive(c, cfg.Archive, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open archive: %v", err), exitConfig)
	}

	cat := session.NewCatalog(cfg.OutputDir)
	name := c.Args().First()
	if name == "" {
		latest, err := cat.Latest()
		if err != nil {
			return notFound(err)
		}
		name = latest.Name
	}

	res, err := arc.Upload(c.Context, cat, name)
	if err != nil {
		return cli.Exit(fmt.Sprintf("archive %s: %v", name, err), exitFailure)
	}
	return r.Render(res)
}

func openArchive(c *cli.Context, cfg config.ArchiveConfig, logger *log.Logger) (*archive.Archiver, error) {
	opts := []archive.Option{archive.WithLogger(logger)}
	if cfg.Dataset != "" {
		opts = append(opts, archive.WithDataset(cfg.Dataset))
	}
	switch cfg.Backend {
	case "", "fs":
		if cfg.Path == "" {
			return nil, fmt.Errorf("archive path is required for the fs backend")
		}
		return archive.NewFS(cfg.Path, opts...)
	case "s3":
		bucket, prefix := archive.ParseS3Path(cfg.Path)
		return archive.NewS3(c.Context, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		}, opts...)
	default:
		return nil, fmt.Errorf("unknown archive backend %q (must be fs or s3)", cfg.Backend)
	}
}

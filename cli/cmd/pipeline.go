package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/NYU-robot-learning/AnySense/adapter"
	"github.com/NYU-robot-learning/AnySense/adapter/redis"
	"github.com/NYU-robot-learning/AnySense/adapter/webhook"
	"github.com/NYU-robot-learning/AnySense/classify"
	"github.com/NYU-robot-learning/AnySense/cli/config"
	"github.com/NYU-robot-learning/AnySense/encoder"
	"github.com/NYU-robot-learning/AnySense/geometry"
	"github.com/NYU-robot-learning/AnySense/imageproc"
	"github.com/NYU-robot-learning/AnySense/iox"
	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/metrics"
	"github.com/NYU-robot-learning/AnySense/recording"
	"github.com/NYU-robot-learning/AnySense/runtime"
	"github.com/NYU-robot-learning/AnySense/session"
	"github.com/NYU-robot-learning/AnySense/source"
	"github.com/NYU-robot-learning/AnySense/streaming"
	"github.com/NYU-robot-learning/AnySense/tactile"
	"github.com/NYU-robot-learning/AnySense/transport"
	"github.com/NYU-robot-learning/AnySense/types"
)

// loadConfig resolves the config file and applies command-line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("output-dir"); v != "" {
		cfg.OutputDir = v
	}
	if c.IsSet("fps") {
		cfg.FPS = c.Int("fps")
	}
	if v := c.String("source"); v != "" {
		cfg.Source.Kind = v
	}
	if v := c.String("device"); v != "" {
		cfg.Source.Device = v
	}
	if v := c.String("depth"); v != "" {
		cfg.Source.Depth = v
	}
	if v := c.String("orientation"); v != "" {
		cfg.Orientation = v
	}
	if c.IsSet("color-map") {
		cfg.ColorMap = c.Bool("color-map")
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("transport"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := c.String("address"); v != "" {
		cfg.Transport.Address = v
	}
	if v := c.String("addr"); v != "" {
		cfg.Server.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Pipeline is a wired capture controller and its collaborators.
type Pipeline struct {
	Controller *runtime.Controller
	Catalog    *session.Catalog
	Metrics    *metrics.Collector
	Logger     *log.Logger

	source *source.Source
}

// BuildPipeline wires every component named in cfg. Log output goes to
// stderr unless cfg.Log.File is set.
func BuildPipeline(cfg *config.Config, stderr io.Writer) (*Pipeline, error) {
	logger, err := log.New(log.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Output:     stderr,
	})
	if err != nil {
		return nil, err
	}

	orientation, err := types.ParseOrientation(cfg.Orientation)
	if err != nil {
		return nil, err
	}
	m := metrics.NewCollector()

	factory, err := sourceFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	src, err := source.New(factory, logger)
	if err != nil {
		return nil, fmt.Errorf("capture source: %w", err)
	}

	proc := imageproc.New(imageproc.Options{
		Viewport:       cfg.Viewport,
		DepthViewport:  cfg.DepthViewport,
		ColorMap:       cfg.ColorMap,
		JPEGQuality:    cfg.JPEGQuality,
		DepthMaxMeters: cfg.DepthMaxMeters,
		Logger:         logger,
		Metrics:        m,
	})

	encoders, err := encoder.NewFactory(cfg.Encoder.Backend)
	if err != nil {
		iox.DiscardClose(src)
		return nil, err
	}
	container := cfg.Encoder.Container
	if container == "" {
		container = encoder.Extension(cfg.Encoder.Backend)
	}
	recorder := recording.New(recording.Options{
		FPS:           cfg.FPS,
		Viewport:      cfg.Viewport,
		DepthViewport: cfg.DepthViewport,
		QueueDepth:    cfg.Encoder.QueueDepth,
		Orientation:   orientation,
		Encoders:      encoders,
		Logger:        logger,
		Metrics:       m,
	})

	link, err := transport.New(cfg.Transport.Kind, cfg.Transport.Address, cfg.Transport.SerialBaud)
	if err != nil {
		iox.DiscardClose(src)
		return nil, err
	}
	streamer := streaming.New(streaming.Options{Transport: link, Logger: logger, Metrics: m})

	rc := runtime.Config{
		FPS:         cfg.FPS,
		OutputDir:   cfg.OutputDir,
		Container:   container,
		TactileRate: cfg.Tactile.Rate,
		Geometry: geometry.Config{
			Orientation:     orientation,
			Viewport:        cfg.Viewport,
			DepthViewport:   cfg.DepthViewport,
			MaxDepthRetries: cfg.Geometry.MaxDepthRetries,
			RetryDelay:      cfg.Geometry.RetryDelay.Duration,
			PollInterval:    cfg.Geometry.PollInterval.Duration,
			Logger:          logger,
		},
		Source:    src,
		Processor: proc,
		Recorder:  recorder,
		Streamer:  streamer,
		Catalog:   session.NewCatalog(cfg.OutputDir),
		Logger:    logger,
		Metrics:   m,
	}

	rc.OnDepthSettled = func(a types.DepthAvailability) {
		if a == types.DepthAvailable {
			return
		}
		logger.Warn("depth capture unavailable, sessions carry color only", map[string]any{
			"source": cfg.Source.Kind,
			"depth":  a.String(),
		})
	}

	if cfg.Tactile.Enabled {
		rc.Radio = tactile.New(tactile.Options{
			Device: cfg.Tactile.Device,
			Baud:   cfg.Tactile.Baud,
			Logger: logger,
		})
	}

	if cfg.Classifier.Enabled {
		freq, err := runtime.ParseFrequency(cfg.Classifier.Frequency)
		if err != nil {
			iox.DiscardClose(src)
			return nil, err
		}
		rc.Classifier = classify.NewQuality()
		rc.ClassifierFrequency = freq
		rc.OnClassified = func(r runtime.Result) {
			logger.Debug("frame classified", map[string]any{
				"label":      r.Label,
				"confidence": r.Confidence,
				"seq":        r.Seq,
			})
		}
	}

	events, err := buildAdapter(cfg.Adapter)
	if err != nil {
		iox.DiscardClose(src)
		return nil, err
	}
	if events != nil {
		rc.Adapter = events
	}

	ctrl, err := runtime.New(rc)
	if err != nil {
		iox.DiscardClose(src)
		if events != nil {
			iox.DiscardClose(events)
		}
		return nil, err
	}
	return &Pipeline{
		Controller: ctrl,
		Catalog:    rc.Catalog,
		Metrics:    m,
		Logger:     logger,
		source:     src,
	}, nil
}

// Close returns the controller to idle and releases the capture session.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.Controller.Close(ctx)
	err = multierr.Append(err, iox.CloseAll(p.source))
	iox.DiscardErr(p.Logger.Sync)
	return err
}

func sourceFactory(cfg *config.Config, logger *log.Logger) (source.SessionFactory, error) {
	switch cfg.Source.Kind {
	case "", "synthetic":
		depth, err := source.ParseDepthMode(cfg.Source.Depth)
		if err != nil {
			return nil, err
		}
		return source.SyntheticFactory(source.SyntheticOptions{
			ColorSize:       cfg.Source.Size,
			DepthSize:       types.Size{Width: cfg.Source.DepthWidth, Height: cfg.Source.DepthHeight},
			Depth:           depth,
			DepthAfterPolls: cfg.Source.DepthAfterPolls,
		}), nil
	case "webcam":
		return source.WebcamFactory(source.WebcamOptions{
			Device: cfg.Source.Device,
			Size:   cfg.Source.Size,
			FPS:    cfg.FPS,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q (want synthetic or webcam)", cfg.Source.Kind)
	}
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (want webhook or redis)", cfg.Type)
	}
}

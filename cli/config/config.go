package config

import (
	"fmt"
	"time"

	"github.com/NYU-robot-learning/AnySense/types"
)

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "anysense.yaml"

// Config represents an anysense.yaml file. CLI flags always override it.
type Config struct {
	OutputDir      string     `yaml:"output_dir"`
	FPS            int        `yaml:"fps"`
	ColorMap       bool       `yaml:"color_map"`
	Orientation    string     `yaml:"orientation"`
	Viewport       types.Size `yaml:"viewport"`
	DepthViewport  types.Size `yaml:"depth_viewport"`
	JPEGQuality    int        `yaml:"jpeg_quality"`
	DepthMaxMeters float32    `yaml:"depth_max_meters"`

	Geometry   GeometryConfig   `yaml:"geometry"`
	Encoder    EncoderConfig    `yaml:"encoder"`
	Source     SourceConfig     `yaml:"source"`
	Transport  TransportConfig  `yaml:"transport"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Tactile    TactileConfig    `yaml:"tactile"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Adapter    AdapterConfig    `yaml:"adapter"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// GeometryConfig tunes the geometry initializer.
type GeometryConfig struct {
	MaxDepthRetries int      `yaml:"max_depth_retries"`
	RetryDelay      Duration `yaml:"retry_delay"`
	PollInterval    Duration `yaml:"poll_interval"`
}

// EncoderConfig selects the video backend.
type EncoderConfig struct {
	Backend    string `yaml:"backend"`
	Container  string `yaml:"container"`
	QueueDepth int    `yaml:"queue_depth"`
}

// SourceConfig selects the capture session.
type SourceConfig struct {
	// Kind is synthetic or webcam.
	Kind            string     `yaml:"kind"`
	Device          string     `yaml:"device"`
	Depth           string     `yaml:"depth"`
	DepthAfterPolls int        `yaml:"depth_after_polls"`
	Size            types.Size `yaml:",inline"`
	DepthWidth      int        `yaml:"depth_width"`
	DepthHeight     int        `yaml:"depth_height"`
}

// TransportConfig selects the streaming link.
type TransportConfig struct {
	Kind       string `yaml:"kind"`
	Address    string `yaml:"address"`
	SerialBaud int    `yaml:"serial_baud"`
}

// ClassifierConfig enables the advisory classifier.
type ClassifierConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Frequency string `yaml:"frequency"`
}

// TactileConfig enables the tactile recorder.
type TactileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Rate    int    `yaml:"rate"`
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
}

// ArchiveConfig selects where sessions are archived.
type ArchiveConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig selects the completion event adapter.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ServerConfig configures the control API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Token, when set, is required as a bearer token.
	Token string `yaml:"token"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OutputDir:      "recordings",
		FPS:            30,
		Orientation:    string(types.OrientationPortrait),
		Viewport:       types.DefaultViewport,
		DepthViewport:  types.DefaultDepthViewport,
		JPEGQuality:    50,
		DepthMaxMeters: 5,
		Geometry: GeometryConfig{
			MaxDepthRetries: 50,
			RetryDelay:      Duration{10 * time.Millisecond},
			PollInterval:    Duration{10 * time.Millisecond},
		},
		Encoder: EncoderConfig{
			Backend:    "mjpeg",
			Container:  "mjpeg",
			QueueDepth: 8,
		},
		Source: SourceConfig{
			Kind:        "synthetic",
			Depth:       "ready",
			Size:        types.Size{Width: 1440, Height: 1920},
			DepthWidth:  192,
			DepthHeight: 256,
		},
		Transport: TransportConfig{
			Kind:       "tcp",
			Address:    "127.0.0.1:9000",
			SerialBaud: 115200,
		},
		Classifier: ClassifierConfig{Frequency: "high"},
		Tactile:    TactileConfig{Rate: 100, Baud: 115200},
		Archive: ArchiveConfig{
			Dataset: "anysense",
			Backend: "fs",
			Path:    "archive",
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Validate checks value ranges that yaml decoding cannot.
func (c *Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", c.FPS)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if _, err := types.ParseOrientation(c.Orientation); err != nil {
		return err
	}
	if c.Viewport.Empty() || c.DepthViewport.Empty() {
		return fmt.Errorf("viewport and depth_viewport must be non-empty")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in [1,100], got %d", c.JPEGQuality)
	}
	if c.Geometry.MaxDepthRetries < 0 {
		return fmt.Errorf("geometry.max_depth_retries must not be negative")
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10ms", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

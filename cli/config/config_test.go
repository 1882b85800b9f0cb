package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NYU-robot-learning/AnySense/types"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anysense.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	yaml := `output_dir: /data/demos
fps: 60
color_map: true
orientation: landscape_left
viewport: {width: 480, height: 640}
depth_viewport: {width: 96, height: 128}
jpeg_quality: 80
depth_max_meters: 3.5

geometry:
  max_depth_retries: 20
  retry_delay: 5ms
  poll_interval: 20ms

encoder:
  backend: ffmpeg
  container: mp4
  queue_depth: 16

source:
  kind: webcam
  device: /dev/video2
  depth: late
  depth_after_polls: 4
  width: 1280
  height: 720

transport:
  kind: serial
  address: /dev/ttyUSB0
  serial_baud: 921600

classifier:
  enabled: true
  frequency: low

tactile:
  enabled: true
  rate: 50
  device: /dev/ttyACM0

archive:
  backend: s3
  path: robot-data/anysense
  region: us-east-2
  endpoint: http://minio:9000
  s3_path_style: true

adapter:
  type: redis
  url: redis://localhost:6379/0
  channel: demos
  timeout: 10s
  retries: 5

server:
  addr: 0.0.0.0:8080

log:
  level: debug
  file: /var/log/anysense.log
  max_size_mb: 10
  max_backups: 2
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	retries := 5
	want := &Config{
		OutputDir:      "/data/demos",
		FPS:            60,
		ColorMap:       true,
		Orientation:    "landscape_left",
		Viewport:       types.Size{Width: 480, Height: 640},
		DepthViewport:  types.Size{Width: 96, Height: 128},
		JPEGQuality:    80,
		DepthMaxMeters: 3.5,
		Geometry: GeometryConfig{
			MaxDepthRetries: 20,
			RetryDelay:      Duration{5 * time.Millisecond},
			PollInterval:    Duration{20 * time.Millisecond},
		},
		Encoder: EncoderConfig{Backend: "ffmpeg", Container: "mp4", QueueDepth: 16},
		Source: SourceConfig{
			Kind:            "webcam",
			Device:          "/dev/video2",
			Depth:           "late",
			DepthAfterPolls: 4,
			Size:            types.Size{Width: 1280, Height: 720},
			DepthWidth:      192,
			DepthHeight:     256,
		},
		Transport:  TransportConfig{Kind: "serial", Address: "/dev/ttyUSB0", SerialBaud: 921600},
		Classifier: ClassifierConfig{Enabled: true, Frequency: "low"},
		Tactile:    TactileConfig{Enabled: true, Rate: 50, Device: "/dev/ttyACM0", Baud: 115200},
		Archive: ArchiveConfig{
			Dataset:     "anysense",
			Backend:     "s3",
			Path:        "robot-data/anysense",
			Region:      "us-east-2",
			Endpoint:    "http://minio:9000",
			S3PathStyle: true,
		},
		Adapter: AdapterConfig{
			Type:    "redis",
			URL:     "redis://localhost:6379/0",
			Channel: "demos",
			Timeout: Duration{10 * time.Second},
			Retries: &retries,
		},
		Server: ServerConfig{Addr: "0.0.0.0:8080"},
		Log:    LogConfig{Level: "debug", File: "/var/log/anysense.log", MaxSizeMB: 10, MaxBackups: 2},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EmptyConfigKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("empty file changed defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	cfg, err := Load(writeTemp(t, "fps: 15\ngeometry:\n  retry_delay: 1ms\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FPS != 15 {
		t.Errorf("fps = %d, want 15", cfg.FPS)
	}
	if cfg.Geometry.RetryDelay.Duration != time.Millisecond {
		t.Errorf("retry_delay = %v", cfg.Geometry.RetryDelay)
	}
	if cfg.Geometry.MaxDepthRetries != 50 || cfg.Geometry.PollInterval.Duration != 10*time.Millisecond {
		t.Errorf("unset geometry fields lost their defaults: %+v", cfg.Geometry)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("ANYSENSE_OUT", "/mnt/usb")
	cfg, err := Load(writeTemp(t, "output_dir: ${ANYSENSE_OUT}\nfps: ${ANYSENSE_FPS:-24}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OutputDir != "/mnt/usb" || cfg.FPS != 24 {
		t.Errorf("got output_dir=%q fps=%d", cfg.OutputDir, cfg.FPS)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing file", "/nonexistent/anysense.yaml", "not found"},
		{"invalid yaml", writeTemp(t, "{{invalid yaml"), "invalid YAML"},
		{"bad duration", writeTemp(t, "geometry:\n  retry_delay: soon\n"), "invalid duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.FPS != 30 {
		t.Errorf("fps = %d, want default 30", cfg.FPS)
	}

	if err := os.WriteFile(DefaultFile, []byte("fps: 12\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.FPS != 12 {
		t.Errorf("fps = %d, want 12 from %s", cfg.FPS, DefaultFile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero fps", func(c *Config) { c.FPS = 0 }},
		{"no output dir", func(c *Config) { c.OutputDir = "" }},
		{"bad orientation", func(c *Config) { c.Orientation = "sideways" }},
		{"empty viewport", func(c *Config) { c.Viewport = types.Size{} }},
		{"jpeg quality", func(c *Config) { c.JPEGQuality = 0 }},
		{"negative retries", func(c *Config) { c.Geometry.MaxDepthRetries = -1 }},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

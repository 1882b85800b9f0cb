package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/NYU-robot-learning/AnySense/types"
)

// Counters are the per-stream totals of one recording.
type Counters struct {
	ColorFrames    int64 `msgpack:"color_frames" json:"color_frames" yaml:"color_frames"`
	ColorDropped   int64 `msgpack:"color_dropped" json:"color_dropped" yaml:"color_dropped"`
	DepthFrames    int64 `msgpack:"depth_frames" json:"depth_frames" yaml:"depth_frames"`
	DepthDropped   int64 `msgpack:"depth_dropped" json:"depth_dropped" yaml:"depth_dropped"`
	Snapshots      int64 `msgpack:"snapshots" json:"snapshots" yaml:"snapshots"`
	SnapshotErrors int64 `msgpack:"snapshot_errors" json:"snapshot_errors" yaml:"snapshot_errors"`
	Poses          int64 `msgpack:"poses" json:"poses" yaml:"poses"`
	PoseErrors     int64 `msgpack:"pose_errors" json:"pose_errors" yaml:"pose_errors"`
}

// Manifest describes a recording. It is written at start and rewritten
// with the final counters at stop.
type Manifest struct {
	Version       string     `msgpack:"version" json:"version" yaml:"version"`
	Name          string     `msgpack:"name" json:"name" yaml:"name"`
	SessionID     string     `msgpack:"session_id" json:"session_id" yaml:"session_id"`
	Start         time.Time  `msgpack:"start" json:"start" yaml:"start"`
	Stop          *time.Time `msgpack:"stop,omitempty" json:"stop,omitempty" yaml:"stop,omitempty"`
	FPS           int        `msgpack:"fps" json:"fps" yaml:"fps"`
	Depth         bool       `msgpack:"depth" json:"depth" yaml:"depth"`
	Container     string     `msgpack:"container" json:"container" yaml:"container"`
	Orientation   string     `msgpack:"orientation" json:"orientation" yaml:"orientation"`
	Viewport      types.Size `msgpack:"viewport" json:"viewport" yaml:"viewport"`
	DepthViewport types.Size `msgpack:"depth_viewport" json:"depth_viewport" yaml:"depth_viewport"`
	Counters      Counters   `msgpack:"counters" json:"counters" yaml:"counters"`
}

// Duration returns the recording length, or zero if it never stopped.
func (m *Manifest) Duration() time.Duration {
	if m.Stop == nil {
		return 0
	}
	return m.Stop.Sub(m.Start)
}

// WriteManifest encodes m to path atomically via a temporary file.
func WriteManifest(path string, m *Manifest) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes the manifest at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// Package session defines the on-disk layout of a recording and the
// catalog of recordings under the output directory.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// TimeLayout formats session start times for directory and file names.
const TimeLayout = "2006-01-02-15_04_05"

// ManifestFile is the name of the per-session manifest.
const ManifestFile = "session.msgpack"

// File name prefixes inside a session directory.
const (
	ColorPrefix    = "RGB_"
	DepthPrefix    = "Depth_"
	PosePrefix     = "AR_Pose_"
	TactilePrefix  = "Tactile_"
	SnapshotPrefix = "Depth_Snapshots_"
)

// Layout is the set of paths for one recording. It is immutable once
// created.
type Layout struct {
	Name      string
	Start     time.Time
	Container string

	Dir          string
	ColorPath    string
	DepthPath    string
	PosePath     string
	TactilePath  string
	RawDepthDir  string
	ManifestPath string
}

// NewLayout derives the paths for a session starting at start under root.
// container is the video file extension without dot.
func NewLayout(root string, start time.Time, container string) Layout {
	name := start.Format(TimeLayout)
	dir := filepath.Join(root, name)
	return Layout{
		Name:         name,
		Start:        start,
		Container:    container,
		Dir:          dir,
		ColorPath:    filepath.Join(dir, fmt.Sprintf("%s%s.%s", ColorPrefix, name, container)),
		DepthPath:    filepath.Join(dir, fmt.Sprintf("%s%s.%s", DepthPrefix, name, container)),
		PosePath:     filepath.Join(dir, PosePrefix+name+".txt"),
		TactilePath:  filepath.Join(dir, TactilePrefix+name+".bin"),
		RawDepthDir:  filepath.Join(dir, SnapshotPrefix+name),
		ManifestPath: filepath.Join(dir, ManifestFile),
	}
}

// SnapshotPath returns the raw depth snapshot path for a capture time.
func (l Layout) SnapshotPath(ts time.Time) string {
	return filepath.Join(l.RawDepthDir, fmt.Sprintf("%d.bin", ts.UnixMilli()))
}

// ParseName parses a session directory name back into its start time, in
// the local time zone.
func ParseName(name string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, name, time.Local)
}

// SetupError reports a failure while creating a session's resources.
// Nothing created before the failure is left behind.
type SetupError struct {
	Op   string
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("session setup: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session setup: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err is or wraps a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

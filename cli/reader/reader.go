// Package reader provides read-only access to recorded sessions for CLI
// commands.
package reader

import (
	"time"

	"github.com/NYU-robot-learning/AnySense/session"
)

// ListItem is one row of `sessions list`.
type ListItem struct {
	Name        string        `json:"name" yaml:"name"`
	Start       time.Time     `json:"start" yaml:"start"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Depth       bool          `json:"depth" yaml:"depth"`
	ColorFrames int64         `json:"color_frames" yaml:"color_frames"`
	Snapshots   int           `json:"snapshots" yaml:"snapshots"`
	Bytes       int64         `json:"bytes" yaml:"bytes"`
}

// Stats aggregates every session in the catalog.
type Stats struct {
	Sessions      int           `json:"sessions" yaml:"sessions"`
	WithDepth     int           `json:"with_depth" yaml:"with_depth"`
	Incomplete    int           `json:"incomplete" yaml:"incomplete"`
	TotalDuration time.Duration `json:"total_duration" yaml:"total_duration"`
	TotalBytes    int64         `json:"total_bytes" yaml:"total_bytes"`
	ColorFrames   int64         `json:"color_frames" yaml:"color_frames"`
	ColorDropped  int64         `json:"color_dropped" yaml:"color_dropped"`
	DepthFrames   int64         `json:"depth_frames" yaml:"depth_frames"`
	DepthDropped  int64         `json:"depth_dropped" yaml:"depth_dropped"`
	Snapshots     int64         `json:"snapshots" yaml:"snapshots"`
	Poses         int64         `json:"poses" yaml:"poses"`
	Latest        string        `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// Reader is the read side used by `sessions` commands.
type Reader interface {
	List(limit int) ([]ListItem, error)
	Inspect(name string) (*session.Details, error)
	Stats() (*Stats, error)
}

// CatalogReader reads sessions from a catalog on disk.
type CatalogReader struct {
	catalog *session.Catalog
}

// NewCatalogReader creates a reader over cat.
func NewCatalogReader(cat *session.Catalog) *CatalogReader {
	return &CatalogReader{catalog: cat}
}

// List returns up to limit sessions, newest first. Zero means all.
func (r *CatalogReader) List(limit int) ([]ListItem, error) {
	entries, err := r.catalog.List()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	items := make([]ListItem, 0, len(entries))
	for _, e := range entries {
		d, err := r.catalog.Inspect(e.Name)
		if err != nil {
			return nil, err
		}
		items = append(items, toListItem(d))
	}
	return items, nil
}

// Inspect returns one session's details.
func (r *CatalogReader) Inspect(name string) (*session.Details, error) {
	return r.catalog.Inspect(name)
}

// Stats aggregates the whole catalog. A session without a manifest counts
// as incomplete.
func (r *CatalogReader) Stats() (*Stats, error) {
	entries, err := r.catalog.List()
	if err != nil {
		return nil, err
	}
	st := &Stats{Sessions: len(entries)}
	if len(entries) > 0 {
		st.Latest = entries[0].Name
	}
	for _, e := range entries {
		d, err := r.catalog.Inspect(e.Name)
		if err != nil {
			return nil, err
		}
		st.TotalBytes += d.TotalBytes
		m := d.Manifest
		if m == nil || m.Stop == nil {
			st.Incomplete++
		}
		if m == nil {
			continue
		}
		if m.Depth {
			st.WithDepth++
		}
		st.TotalDuration += m.Duration()
		st.ColorFrames += m.Counters.ColorFrames
		st.ColorDropped += m.Counters.ColorDropped
		st.DepthFrames += m.Counters.DepthFrames
		st.DepthDropped += m.Counters.DepthDropped
		st.Snapshots += m.Counters.Snapshots
		st.Poses += m.Counters.Poses
	}
	return st, nil
}

func toListItem(d *session.Details) ListItem {
	item := ListItem{
		Name:      d.Name,
		Start:     d.Start,
		Snapshots: d.Snapshots,
		Bytes:     d.TotalBytes,
	}
	if m := d.Manifest; m != nil {
		item.Duration = m.Duration()
		item.Depth = m.Depth
		item.ColorFrames = m.Counters.ColorFrames
	}
	return item
}

var _ Reader = (*CatalogReader)(nil)

package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoSessions is returned when the catalog holds no recordings.
var ErrNoSessions = errors.New("no recorded sessions")

// ErrNotFound is returned when a named session does not exist.
var ErrNotFound = errors.New("session not found")

// Entry is one recording in the catalog.
type Entry struct {
	Name  string    `json:"name" yaml:"name"`
	Start time.Time `json:"start" yaml:"start"`
	Dir   string    `json:"dir" yaml:"dir"`
}

// FileInfo is one file inside a session directory.
type FileInfo struct {
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
}

// Details is the inspection result for one session.
type Details struct {
	Entry      `json:",inline" yaml:",inline"`
	Manifest   *Manifest  `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Files      []FileInfo `json:"files" yaml:"files"`
	Snapshots  int        `json:"snapshots" yaml:"snapshots"`
	TotalBytes int64      `json:"total_bytes" yaml:"total_bytes"`
}

// Catalog lists the recordings under an output directory. Only
// directories whose name parses as a session timestamp are considered.
type Catalog struct {
	root string
}

// NewCatalog returns a catalog rooted at dir.
func NewCatalog(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the catalog directory.
func (c *Catalog) Root() string {
	return c.root
}

// List returns every session, newest first. A missing root is empty.
func (c *Catalog) List() ([]Entry, error) {
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []Entry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		start, err := ParseName(d.Name())
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:  d.Name(),
			Start: start,
			Dir:   filepath.Join(c.root, d.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Start.After(out[j].Start)
	})
	return out, nil
}

// Count returns the number of sessions.
func (c *Catalog) Count() (int, error) {
	entries, err := c.List()
	return len(entries), err
}

// Latest returns the newest session.
func (c *Catalog) Latest() (Entry, error) {
	entries, err := c.List()
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNoSessions
	}
	return entries[0], nil
}

// DeleteLatest removes the newest session directory and returns it.
func (c *Catalog) DeleteLatest() (Entry, error) {
	e, err := c.Latest()
	if err != nil {
		return Entry{}, err
	}
	if err := os.RemoveAll(e.Dir); err != nil {
		return Entry{}, fmt.Errorf("delete session %s: %w", e.Name, err)
	}
	return e, nil
}

// Get returns the entry for a session name.
func (c *Catalog) Get(name string) (Entry, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	start, err := ParseName(name)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	dir := filepath.Join(c.root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return Entry{Name: name, Start: start, Dir: dir}, nil
}

// Inspect reads a session's manifest and file sizes. A missing or
// unreadable manifest leaves Manifest nil.
func (c *Catalog) Inspect(name string) (*Details, error) {
	e, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	d := &Details{Entry: e}

	if m, err := ReadManifest(filepath.Join(e.Dir, ManifestFile)); err == nil {
		d.Manifest = m
	}

	err = filepath.WalkDir(e.Dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(e.Dir, path)
		if strings.HasPrefix(rel, SnapshotPrefix) {
			d.Snapshots++
		} else {
			d.Files = append(d.Files, FileInfo{Name: rel, Size: info.Size()})
		}
		d.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inspect session %s: %w", name, err)
	}
	sort.Slice(d.Files, func(i, j int) bool { return d.Files[i].Name < d.Files[j].Name })
	return d, nil
}

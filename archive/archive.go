// Package archive uploads finished recordings into a lode dataset.
//
// Each upload writes one JSONL snapshot holding a session record and one
// record per file, partitioned by day and session. File contents are put
// as blobs next to the partition under files/.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/NYU-robot-learning/AnySense/log"
	"github.com/NYU-robot-learning/AnySense/session"
	"github.com/NYU-robot-learning/AnySense/types"
)

// DefaultDataset is the lode dataset sessions are archived into.
const DefaultDataset = "anysense"

// Record kinds.
const (
	KindSession = "session"
	KindFile    = "file"
)

// ErrEmptySession is returned when a session directory holds no files.
var ErrEmptySession = errors.New("session has no files")

// DeriveDay returns the partition day for a session start, in UTC.
func DeriveDay(start time.Time) string {
	return start.UTC().Format("2006-01-02")
}

// Record is one archived row read back from the dataset.
type Record struct {
	Kind    string `json:"kind" yaml:"kind"`
	Day     string `json:"day" yaml:"day"`
	Session string `json:"session" yaml:"session"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Key     string `json:"key,omitempty" yaml:"key,omitempty"`
	Size    int64  `json:"size" yaml:"size"`
	Files   int64  `json:"files,omitempty" yaml:"files,omitempty"`
	Depth   bool   `json:"depth" yaml:"depth"`
}

// Result summarizes one upload.
type Result struct {
	Session  string `json:"session" yaml:"session"`
	Day      string `json:"day" yaml:"day"`
	Files    int    `json:"files" yaml:"files"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
	Snapshot string `json:"snapshot" yaml:"snapshot"`
}

// Archiver writes sessions to a dataset and its backing store.
type Archiver struct {
	dataset string
	ds      lode.Dataset
	logger  *log.Logger

	factory   lode.StoreFactory
	storeOnce sync.Once
	store     lode.Store
	storeErr  error
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithDataset overrides DefaultDataset.
func WithDataset(name string) Option {
	return func(a *Archiver) { a.dataset = name }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Archiver) { a.logger = l }
}

// NewFS archives into a local directory.
func NewFS(root string, opts ...Option) (*Archiver, error) {
	return NewWithFactory(lode.NewFSFactory(root), opts...)
}

// NewWithFactory archives into the store the factory produces.
func NewWithFactory(factory lode.StoreFactory, opts ...Option) (*Archiver, error) {
	a := &Archiver{
		dataset: DefaultDataset,
		logger:  log.NewNop(),
		factory: factory,
	}
	for _, opt := range opts {
		opt(a)
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(a.dataset),
		factory,
		lode.WithHiveLayout("day", "session"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, a.dataset)
	}
	a.ds = ds
	return a, nil
}

// Upload archives the named session from the catalog.
func (a *Archiver) Upload(ctx context.Context, cat *session.Catalog, name string) (*Result, error) {
	d, err := cat.Inspect(name)
	if err != nil {
		return nil, err
	}
	files, err := sessionFiles(d.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySession, name)
	}

	store, err := a.getOrCreateStore()
	if err != nil {
		return nil, WrapInitError(err, a.dataset)
	}

	day := DeriveDay(d.Start)
	res := &Result{Session: name, Day: day}
	records := make([]any, 0, len(files)+1)
	for _, f := range files {
		key := a.blobKey(day, name, f.Name)
		if err := a.putFile(ctx, store, key, filepath.Join(d.Dir, filepath.FromSlash(f.Name))); err != nil {
			return nil, err
		}
		records = append(records, map[string]any{
			"kind":    KindFile,
			"day":     day,
			"session": name,
			"path":    f.Name,
			"key":     key,
			"size":    f.Size,
		})
		res.Files++
		res.Bytes += f.Size
	}

	records = append([]any{sessionRecord(d, day, res)}, records...)
	snap, err := a.ds.Write(ctx, records, lode.Metadata{})
	if err != nil {
		return nil, WrapWriteError(err, a.dataset)
	}
	res.Snapshot = fmt.Sprint(snap.ID)

	a.logger.Info("session archived", map[string]any{
		"session":  name,
		"day":      day,
		"files":    res.Files,
		"bytes":    res.Bytes,
		"snapshot": res.Snapshot,
	})
	return res, nil
}

// Archived returns every record written for a session, or for all
// sessions when name is empty.
func (a *Archiver) Archived(ctx context.Context, name string) ([]Record, error) {
	snapshots, err := a.ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, a.dataset)
	}
	var out []Record
	for _, snap := range snapshots {
		if !snapshotMatches(snap, "session", name) {
			continue
		}
		data, err := a.ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", a.dataset, snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r := parseRecord(m)
			if name != "" && r.Session != name {
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *Archiver) getOrCreateStore() (lode.Store, error) {
	a.storeOnce.Do(func() {
		a.store, a.storeErr = a.factory()
	})
	return a.store, a.storeErr
}

// blobKey is datasets/<dataset>/partitions/day=<d>/session=<s>/files/<rel>.
func (a *Archiver) blobKey(day, name, rel string) string {
	return fmt.Sprintf("datasets/%s/partitions/day=%s/session=%s/files/%s", a.dataset, day, name, rel)
}

func (a *Archiver) putFile(ctx context.Context, store lode.Store, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapReadError(err, path)
	}
	defer f.Close()
	if err := store.Put(ctx, key, f); err != nil {
		return WrapWriteError(err, key)
	}
	return nil
}

// sessionFiles lists every regular file under dir with slash-separated
// relative names, sorted.
func sessionFiles(dir string) ([]session.FileInfo, error) {
	var out []session.FileInfo
	err := filepath.WalkDir(dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.Type().IsRegular() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, session.FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, WrapReadError(err, dir)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func sessionRecord(d *session.Details, day string, res *Result) map[string]any {
	rec := map[string]any{
		"kind":    KindSession,
		"day":     day,
		"session": d.Name,
		"start":   d.Start.UTC().Format(time.RFC3339),
		"size":    res.Bytes,
		"files":   int64(res.Files),
		"depth":   false,
		"version": types.Version,
	}
	if m := d.Manifest; m != nil {
		rec["depth"] = m.Depth
		rec["duration_ms"] = m.Duration().Milliseconds()
		rec["session_id"] = m.SessionID
	}
	return rec
}

func parseRecord(m map[string]any) Record {
	r := Record{
		Kind:    toString(m["kind"]),
		Day:     toString(m["day"]),
		Session: toString(m["session"]),
		Path:    toString(m["path"]),
		Key:     toString(m["key"]),
		Size:    toInt64(m["size"]),
		Files:   toInt64(m["files"]),
	}
	if b, ok := m["depth"].(bool); ok {
		r.Depth = b
	}
	return r
}

// snapshotMatches reports whether any file of the snapshot sits under the
// key=value partition. An empty value matches everything.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(filepath.ToSlash(f.Path), "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

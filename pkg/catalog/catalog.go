// Package catalog lists the compiled artifacts available for execution.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/gridscout/pkg/synth"
)

// ErrNotFound is returned when a requested artifact is not in the catalog.
var ErrNotFound = errors.New("artifact not found")

// Entry is one artifact file.
type Entry struct {
	Name    string    `json:"name"`
	Site    string    `json:"site"`
	Version int       `json:"version"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
	Latest  bool      `json:"latest"`
}

// Catalog reads artifacts from a directory.
type Catalog struct {
	dir string
}

// New creates a catalog over dir.
func New(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Dir returns the artifacts directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// List returns every artifact ordered by site then version. A missing
// directory is an empty catalog.
func (c *Catalog) List() ([]Entry, error) {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read artifacts dir: %w", err)
	}

	var entries []Entry
	latest := make(map[string]int)
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".yaml" {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		a, err := synth.Load(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		e := Entry{
			Name:    strings.TrimSuffix(f.Name(), ".yaml"),
			Site:    a.Site,
			Version: a.Version,
			Path:    a.Path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if e.Version > latest[e.Site] {
			latest[e.Site] = e.Version
		}
		entries = append(entries, e)
	}

	for i := range entries {
		entries[i].Latest = entries[i].Version == latest[entries[i].Site]
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Site != entries[j].Site {
			return entries[i].Site < entries[j].Site
		}
		return entries[i].Version < entries[j].Version
	})
	return entries, nil
}

// Select returns the entries whose name matches m, optionally only the
// latest version of each site.
func (c *Catalog) Select(m *Matcher, latestOnly bool) ([]Entry, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if latestOnly && !e.Latest {
			continue
		}
		if m != nil && !m.Match(e.Name) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Resolve maps a name ("site_v2", "site_v2.yaml") or a path to an
// artifact path inside the catalog directory. Paths outside the directory
// are rejected.
func (c *Catalog) Resolve(ref string) (string, error) {
	name := filepath.Base(ref)
	if filepath.Ext(name) != ".yaml" {
		name += ".yaml"
	}
	if ref != filepath.Base(ref) {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return "", err
		}
		dir, err := filepath.Abs(c.dir)
		if err != nil {
			return "", err
		}
		if filepath.Dir(abs) != dir {
			return "", fmt.Errorf("%w: %s is outside %s", ErrNotFound, ref, c.dir)
		}
	}

	path := filepath.Join(c.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return path, nil
}

// Paths returns the paths of entries.
func Paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

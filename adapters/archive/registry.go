package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xancrypt/xancrypt/ports"
)

// Registry maps archive names to files on disk for a limited time.
// An expired entry takes its file with it. An entry pushed out by the size
// cap only loses its link; the file is left for Sweep, which removes it once
// the retention period has passed.
type Registry struct {
	ttl   time.Duration
	cache *expirable.LRU[string, archiveFile]
}

type archiveFile struct {
	path    string
	expires time.Time
}

// NewRegistry creates a registry holding up to size archives for ttl each.
func NewRegistry(size int, ttl time.Duration) *Registry {
	if size <= 0 {
		size = 1024
	}
	r := &Registry{ttl: ttl}
	r.cache = expirable.NewLRU[string, archiveFile](size, r.evicted, ttl)
	return r
}

func (r *Registry) evicted(_ string, f archiveFile) {
	if !time.Now().Before(f.expires) {
		os.Remove(f.path)
	}
}

// Register makes the archive at path downloadable as name.
func (r *Registry) Register(name, path string) {
	// Computed before Add so it never falls after the cache's own deadline.
	expires := time.Now().Add(r.ttl)
	r.cache.Add(name, archiveFile{path: path, expires: expires})
}

// Lookup returns the file backing name.
func (r *Registry) Lookup(name string) (string, bool) {
	f, ok := r.cache.Get(name)
	return f.path, ok
}

// Len returns the number of live archives.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Purge drops every entry and deletes the files, expired or not.
func (r *Registry) Purge() {
	for _, f := range r.cache.Values() {
		os.Remove(f.path)
	}
	r.cache.Purge()
}

// Sweep deletes archives in dir last modified before now-maxAge. Archives
// left by a previous process are not in any registry and would otherwise
// never be removed. It returns the number of files deleted.
func Sweep(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Ensure interface compliance.
var _ ports.ArchiveRegistry = (*Registry)(nil)

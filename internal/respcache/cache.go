// Package respcache persists generated answers on disk, one JSON file per
// entry. Keys are derived from the normalized question text and the response
// format, so "who is the director?" asked for web and voice output caches
// separately. Entries expire after a TTL; a rate-limited maintenance sweep
// removes expired files and evicts the oldest entries when the directory
// exceeds its size ceiling.
//
// Get and Put are safe for concurrent use without locking: each entry is an
// independent file and writes land via rename, so readers never observe a
// partially written entry.
package respcache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pythia/internal/config"
)

// Entry is one cached answer.
type Entry struct {
	// Response is the full generated answer text, stored byte-identically
	// so a replay streams exactly what the model produced.
	Response string `json:"response"`

	// Format is the response format the answer was generated for
	// ("web" or "voice").
	Format string `json:"format"`

	// Emotion is the label detected for the answer when it was generated.
	Emotion string `json:"emotion,omitempty"`

	// Metadata carries free-form details about how the answer was produced
	// (intent, matched entity, result count).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp records when the entry was written. Put sets it; any value
	// supplied by the caller is overwritten.
	Timestamp time.Time `json:"timestamp"`
}

// Stats is a point-in-time snapshot of the cache directory and its counters.
type Stats struct {
	Enabled    bool   `json:"enabled"`
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"total_bytes"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
	Writes     int64  `json:"writes"`
	TTL        string `json:"ttl"`
}

// Cache is a file-backed response cache rooted at a single directory.
type Cache struct {
	dir             string
	ttl             time.Duration
	cleanupInterval time.Duration
	maxBytes        int64

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64

	// mu serializes maintenance sweeps and Clear; lastCleanup is only
	// touched under it.
	mu          sync.Mutex
	lastCleanup time.Time
}

// Key derives the cache key for a question and response format. The caller
// is expected to pass the normalized question (cleaned text with person
// names in canonical form) so trivially different phrasings share an entry.
func Key(question, format string) string {
	sum := md5.Sum([]byte(question + "_" + format))
	return hex.EncodeToString(sum[:])
}

// New opens (creating if needed) the cache directory described by cfg.
// Callers should not construct a Cache when caching is disabled.
func New(cfg config.CacheConfig) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("respcache: cache directory must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("respcache: create cache directory: %w", err)
	}
	return &Cache{
		dir:             cfg.Dir,
		ttl:             cfg.TTL.Std(),
		cleanupInterval: cfg.CleanupInterval.Std(),
		maxBytes:        cfg.MaxBytes,
	}, nil
}

// Get returns the entry stored under key. The second return value is false
// when no entry exists, the entry has expired, or the file cannot be parsed.
// Expired and unreadable files are removed on the way out so they are not
// rechecked on every lookup.
func (c *Cache) Get(key string) (Entry, bool) {
	path := c.entryPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		c.misses.Add(1)
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		slog.Warn("respcache: removing unreadable cache entry", "key", key, "err", err)
		os.Remove(path)
		c.misses.Add(1)
		return Entry{}, false
	}
	if c.expired(e.Timestamp) {
		os.Remove(path)
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e, true
}

// Put stores e under key, stamping it with the current time. The entry is
// written to a temporary file and renamed into place so concurrent readers
// see either the old entry or the new one, never a torn write. Put also
// gives the rate-limited maintenance sweep a chance to run.
func (c *Cache) Put(key string, e Entry) error {
	e.Timestamp = time.Now()
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("respcache: encode cache entry: %w", err)
	}
	path := c.entryPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("respcache: write cache entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("respcache: publish cache entry: %w", err)
	}
	c.writes.Add(1)
	c.Cleanup()
	return nil
}

// Cleanup runs a maintenance sweep, removing expired entries and then
// evicting the oldest entries until the directory fits under the size
// ceiling. Sweeps are serialized and rate limited: a call inside the
// cleanup interval of the previous sweep returns immediately. Both the
// periodic janitor and Put call this.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastCleanup) < c.cleanupInterval {
		return
	}
	removed := c.removeExpired()
	evicted := c.enforceSizeLimit()
	c.lastCleanup = time.Now()
	if removed > 0 || evicted > 0 {
		slog.Debug("respcache: maintenance sweep finished", "expired", removed, "evicted", evicted)
	}
}

// Stats reports the current entry count and byte total alongside the
// lifetime hit, miss and write counters.
func (c *Cache) Stats() Stats {
	var entries int
	var total int64
	for _, path := range c.entryPaths() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entries++
		total += info.Size()
	}
	return Stats{
		Enabled:    true,
		Dir:        c.dir,
		Entries:    entries,
		TotalBytes: total,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Writes:     c.writes.Load(),
		TTL:        c.ttl.String(),
	}
}

// Clear removes every entry file and resets the counters. It returns the
// number of entries removed.
func (c *Cache) Clear() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int
	for _, path := range c.entryPaths() {
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("respcache: clear cache: %w", err)
		}
		removed++
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.writes.Store(0)
	return removed, nil
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// entryPaths lists the entry files currently in the cache directory,
// ignoring temporary files from in-flight writes.
func (c *Cache) entryPaths() []string {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		slog.Error("respcache: read cache directory", "dir", c.dir, "err", err)
		return nil
	}
	var paths []string
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(c.dir, de.Name()))
	}
	return paths
}

func (c *Cache) expired(ts time.Time) bool {
	if ts.IsZero() {
		return true
	}
	return time.Since(ts) > c.ttl
}

// removeExpired deletes every entry whose timestamp is past the TTL.
// Files that cannot be parsed are deleted too; they can never be served.
func (c *Cache) removeExpired() int {
	var removed int
	for _, path := range c.entryPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err == nil && !c.expired(e.Timestamp) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed
}

// enforceSizeLimit evicts the oldest entries by modification time until the
// directory total falls under the configured ceiling.
func (c *Cache) enforceSizeLimit() int {
	if c.maxBytes <= 0 {
		return 0
	}
	type entryFile struct {
		path  string
		size  int64
		mtime time.Time
	}
	var files []entryFile
	var total int64
	for _, path := range c.entryPaths() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, entryFile{path: path, size: info.Size(), mtime: info.ModTime()})
		total += info.Size()
	}
	if total <= c.maxBytes {
		return 0
	}
	slog.Info("respcache: cache over size limit", "total_bytes", total, "max_bytes", c.maxBytes)
	slices.SortFunc(files, func(a, b entryFile) int {
		return a.mtime.Compare(b.mtime)
	})
	var evicted int
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		total -= f.size
		evicted++
	}
	return evicted
}

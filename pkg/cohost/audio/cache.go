package audio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Cache stores synthesized speech on disk keyed by the SHA-256 of the exact
// input text. Entries never expire; Trim bounds the entry count.
type Cache struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "cache/tts"
	}
	return &Cache{dir: dir, logger: logger.With("component", "audio-cache")}
}

// EnsureDir creates the cache directory if it doesn't exist.
func (c *Cache) EnsureDir() error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("creating directory %s: %w", c.dir, err)
	}
	return nil
}

// Key returns the cache key for text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(text string) string {
	return filepath.Join(c.dir, Key(text)+".wav")
}

// Get returns the cached waveform for text. Unreadable entries are removed
// and reported as misses.
func (c *Cache) Get(text string) (Waveform, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(text)
	data, err := os.ReadFile(path)
	if err != nil {
		return Waveform{}, false
	}
	w, err := DecodeWAV(bytes.NewReader(data))
	if err == nil {
		err = Validate(w)
	}
	if err != nil {
		c.logger.Warn("dropping corrupt cache entry", "path", path, "error", err)
		_ = os.Remove(path)
		return Waveform{}, false
	}
	return w, true
}

// Put stores w under text.
func (c *Cache) Put(text string, w Waveform) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.EnsureDir(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".tmp-*.wav")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := EncodeWAV(tmp, w); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("setting cache file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(text)); err != nil {
		return fmt.Errorf("storing cache file: %w", err)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, _ := c.entries()
	return len(entries)
}

// Trim removes the least recently written entries until at most max
// remain. It returns the number removed.
func (c *Cache) Trim(max int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.entries()
	if err != nil {
		return 0, err
	}
	if max < 0 || len(entries) <= max {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime < entries[j].modTime
	})
	removed := 0
	for _, e := range entries[:len(entries)-max] {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing %s: %w", e.path, err)
		}
		removed++
	}
	c.logger.Info("audio cache trimmed", "removed", removed, "kept", max)
	return removed, nil
}

type cacheEntry struct {
	path    string
	modTime int64
}

func (c *Cache) entries() ([]cacheEntry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}
	var out []cacheEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".wav") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, cacheEntry{path: filepath.Join(c.dir, name), modTime: info.ModTime().UnixNano()})
	}
	return out, nil
}

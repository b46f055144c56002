package search

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketEmbeddings = []byte("embeddings")

// ErrCacheClosed is returned by Put after Close.
var ErrCacheClosed = errors.New("embedding cache is closed")

// CacheKeyMode selects how cache entries are keyed.
type CacheKeyMode string

const (
	// KeyName keys entries by "server.tool". A changed description keeps
	// its stale vector until the cache file is deleted.
	KeyName CacheKeyMode = "name"

	// KeyContent keys entries by "server.tool#<hash of embedded text>", so a
	// changed description misses the cache and is embedded again.
	KeyContent CacheKeyMode = "content"
)

// ParseCacheKeyMode parses s; an empty string is KeyName.
func ParseCacheKeyMode(s string) (CacheKeyMode, error) {
	switch CacheKeyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeyName:
		return KeyName, nil
	case KeyContent:
		return KeyContent, nil
	default:
		return "", fmt.Errorf("%w: unknown cache key mode %q", ErrConfiguration, s)
	}
}

// Key returns the cache key for a tool id and the text embedded for it.
func (m CacheKeyMode) Key(id, text string) string {
	if m != KeyContent {
		return id
	}
	sum := sha256.Sum256([]byte(text))
	return id + "#" + hex.EncodeToString(sum[:8])
}

// Cache memoizes tool embeddings in memory and in a bbolt file.
//
// The file is read once, when the cache is opened. Put appends; nothing is
// ever pruned. The mutex covers both the in-memory map and the
// persist-then-insert sequence, so two writers never interleave.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: Put returns ErrCacheWrite when the entry could not be persisted.
// - Ownership: Get returns a copy; callers may modify it.
type Cache struct {
	mu      sync.Mutex
	db      *bolt.DB
	path    string
	entries map[string][]float32
	closed  bool
	logger  *zap.Logger
}

// NewMemoryCache returns a cache that never touches disk.
func NewMemoryCache() *Cache {
	return &Cache{entries: make(map[string][]float32), logger: zap.NewNop()}
}

// OpenCache opens (or creates) the cache file at path and loads every entry.
// An empty path returns a memory-only cache.
func OpenCache(path string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		c := NewMemoryCache()
		c.logger = logger.Named("embedding_cache")
		return c, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	c := &Cache{
		db:      db,
		path:    path,
		entries: make(map[string][]float32),
		logger:  logger.Named("embedding_cache"),
	}
	if err := c.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	c.logger.Debug("embedding cache loaded", zap.String("path", path), zap.Int("entries", len(c.entries)))
	return c, nil
}

func (c *Cache) load() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		if err != nil {
			return fmt.Errorf("ensure embeddings bucket: %w", err)
		}
		return bucket.ForEach(func(k, v []byte) error {
			vec, err := decodeVector(v)
			if err != nil {
				c.logger.Warn("skipping corrupt cache entry", zap.String("key", string(k)), zap.Error(err))
				return nil
			}
			c.entries[string(k)] = vec
			return nil
		})
	})
}

// Path returns the cache file location; empty for a memory-only cache.
func (c *Cache) Path() string {
	return c.path
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get returns a copy of the vector cached under key.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

// Put persists vec under key and then records it in memory. An existing key
// is left untouched. When the write fails the vector is still kept in memory,
// so this process does not embed it again, and the failure is returned.
func (c *Cache) Put(key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return nil
	}
	stored := append([]float32(nil), vec...)
	c.entries[key] = stored

	if c.db == nil {
		return nil
	}
	if c.closed {
		return fmt.Errorf("%w: %s: %w", ErrCacheWrite, key, ErrCacheClosed)
	}
	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), encodeVector(stored))
	})
	if err != nil {
		c.logger.Error("embedding cache write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrCacheWrite, key, err)
	}
	return nil
}

// Close releases the cache file. The in-memory entries stay readable.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil || c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// encodeVector stores each component as a little-endian IEEE-754 float32,
// which round-trips bit for bit.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

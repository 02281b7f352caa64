// Package cache provides the shared audio cache for synthesis results: a
// bounded LRU with per-entry TTL keyed by locale-qualified text hashes.
//
// One Cache instance is built in the composition root and handed to every
// consumer that wants caching (the HTTP handler, the remote provider). There
// is no package-level instance.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vachaklabs/vachak/pkg/tts"
)

const (
	// DefaultMaxEntries bounds the cache when no capacity is configured.
	DefaultMaxEntries = 1000
	// DefaultTTL expires entries when no TTL is configured.
	DefaultTTL = time.Hour
)

// Key derives the cache key for a synthesis request:
// "<locale>:<hex sha1 of text>". The text is hashed exactly as given; callers
// sanitize first so equivalent inputs share an entry. The same (text, locale)
// pair always produces the same key and byte-different inputs never collide
// on the locale prefix.
func Key(text string, locale tts.Locale) string {
	sum := sha1.Sum([]byte(text))
	return string(locale) + ":" + hex.EncodeToString(sum[:])
}

// Cache is a bounded TTL LRU over synthesized audio. Safe for concurrent use.
type Cache struct {
	lru    *expirable.LRU[string, []byte]
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a cache holding at most maxEntries results for at most ttl
// each. Non-positive arguments fall back to the package defaults.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
	}
}

// Get returns the cached audio for key. A hit refreshes the entry's recency;
// entries past their TTL miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	audio, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return audio, ok
}

// Add stores audio under key, evicting the least recently used entry when
// the cache is full. Callers only Add after a fully successful synthesis;
// the cache never holds partial results.
func (c *Cache) Add(key string, audio []byte) {
	c.lru.Add(key, audio)
}

// Len returns the number of live entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Hits returns the number of lookups answered from the cache.
func (c *Cache) Hits() int64 { return c.hits.Load() }

// Misses returns the number of lookups that fell through.
func (c *Cache) Misses() int64 { return c.misses.Load() }

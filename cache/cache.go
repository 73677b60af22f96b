// Package cache provides the in-process content cache shared by all fetches.
//
// Entries are immutable once stored. Each key owns a slot with its own lock,
// so operations on distinct keys never contend and operations on the same
// key are serialized. Expired entries are evicted lazily by Get and
// opportunistically by an optional background sweeper.
package cache

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is the lifetime of an entry stored with a zero TTL.
const DefaultTTL = 24 * time.Hour

// Entry is a cached item. Content is shared with the cache and must not be
// modified by callers.
type Entry struct {
	Key       string
	Content   []byte
	Size      int64
	Digest    Digest
	FetchedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry has outlived its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.FetchedAt) > e.TTL
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
	Bytes     int64
}

// HitRate returns hits / (hits + misses), or 0 when there were no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type slot struct {
	mu    sync.Mutex
	entry *Entry
	dead  bool
}

// Cache is a TTL cache keyed by normalized spec strings. The zero value is
// not usable; call New.
type Cache struct {
	slots sync.Map // string -> *slot

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	sweepEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the TTL applied when Put is called with a zero TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now. Tests use it to expire entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for sweep and snapshot messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSweepInterval starts a background sweeper that removes expired entries
// every interval. Close stops it.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Cache) {
		c.sweepEvery = interval
	}
}

// New creates a cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepEvery > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.sweepLoop()
	}
	return c
}

// Get returns the entry for key. An expired entry is evicted and reported as
// a miss.
func (c *Cache) Get(key string) (Entry, bool) {
	v, ok := c.slots.Load(key)
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	s := v.(*slot)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead || s.entry == nil {
		c.misses.Add(1)
		return Entry{}, false
	}
	if s.entry.Expired(c.now()) {
		c.killLocked(key, s)
		c.misses.Add(1)
		return Entry{}, false
	}

	c.hits.Add(1)
	return *s.entry, true
}

// Put stores a copy of content under key. A zero ttl uses the cache default.
// Putting an existing key replaces its entry.
func (c *Cache) Put(key string, content []byte, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := &Entry{
		Key:       key,
		Content:   bytes.Clone(content),
		Size:      int64(len(content)),
		Digest:    Sum(content),
		FetchedAt: c.now(),
		TTL:       ttl,
	}
	if e.Content == nil {
		e.Content = []byte{}
	}
	c.store(e)
	return *e
}

// store installs e, retrying if it raced with an eviction of the same slot.
func (c *Cache) store(e *Entry) {
	for {
		v, _ := c.slots.LoadOrStore(e.Key, &slot{})
		s := v.(*slot)

		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		s.entry = e
		s.mu.Unlock()
		return
	}
}

// Invalidate removes every entry whose key contains pattern and returns the
// number removed.
func (c *Cache) Invalidate(pattern string) int {
	return c.removeIf(func(key string) bool {
		return strings.Contains(key, pattern)
	})
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(prefix string) int {
	return c.removeIf(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.removeIf(func(string) bool { return true })
}

// Sweep removes expired entries and returns the number removed.
func (c *Cache) Sweep() int {
	now := c.now()
	n := 0
	c.slots.Range(func(k, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead && s.entry != nil && s.entry.Expired(now) {
			c.killLocked(k.(string), s)
			n++
		}
		s.mu.Unlock()
		return true
	})
	return n
}

// Len returns the number of live slots, including expired entries that have
// not yet been evicted.
func (c *Cache) Len() int {
	n := 0
	c.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead && s.entry != nil {
			n++
		}
		s.mu.Unlock()
		return true
	})
	return n
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	c.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead && s.entry != nil {
			st.Entries++
			st.Bytes += s.entry.Size
		}
		s.mu.Unlock()
		return true
	})
	return st
}

// Close stops the background sweeper, if any. It is safe to call more than
// once.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
			<-c.done
		}
	})
	return nil
}

func (c *Cache) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("cache sweep evicted expired entries", "count", n)
			}
		}
	}
}

func (c *Cache) removeIf(match func(string) bool) int {
	n := 0
	c.slots.Range(func(k, v any) bool {
		key := k.(string)
		if !match(key) {
			return true
		}
		s := v.(*slot)
		s.mu.Lock()
		if !s.dead {
			if s.entry != nil {
				n++
			}
			c.killLocked(key, s)
		}
		s.mu.Unlock()
		return true
	})
	return n
}

// killLocked marks s dead and unlinks it. Caller holds s.mu.
func (c *Cache) killLocked(key string, s *slot) {
	if s.entry != nil {
		c.evictions.Add(1)
	}
	s.dead = true
	s.entry = nil
	c.slots.CompareAndDelete(key, s)
}

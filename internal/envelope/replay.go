package envelope

import (
	"container/list"
	"sync"
	"time"
)

// saltEntry pairs a salt with the wall-clock time it was accepted, so stale
// entries can be evicted in FIFO order without a full scan.
type saltEntry struct {
	acceptedAt time.Time
	salt       []byte
}

// ReplayCache is the process-wide, bounded FIFO of recently seen salts
// (spec §3 "Replay cache", §4.2, §5 "salt_cache": single process-wide mutex,
// O(1) amortised, bounded by freshness window × ingress rate).
type ReplayCache struct {
	mu      sync.Mutex
	entries *list.List // front = oldest
	index   map[string]*list.Element
	window  time.Duration
	maxSize int
}

// NewReplayCache builds a cache that expires entries older than window and
// additionally bounds total size at maxSize as a hard backstop against an
// ingress burst outrunning the time-based eviction.
func NewReplayCache(window time.Duration, maxSize int) *ReplayCache {
	return &ReplayCache{
		entries: list.New(),
		index:   make(map[string]*list.Element),
		window:  window,
		maxSize: maxSize,
	}
}

// CheckAndPut reports whether salt is fresh (not seen within the window)
// and, if so, records it. It is the Go analogue of the original
// Encryption::check_and_put_salt. Duplicate detection is a map lookup
// keyed on the salt bytes, kept in sync with the FIFO eviction list, so
// the whole operation stays O(1) amortised as documented above.
func (c *ReplayCache) CheckAndPut(salt []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.evictLocked(now)

	key := string(salt)
	if _, seen := c.index[key]; seen {
		return false
	}

	stored := make([]byte, len(salt))
	copy(stored, salt)
	elem := c.entries.PushBack(&saltEntry{acceptedAt: now, salt: stored})
	c.index[key] = elem

	if c.maxSize > 0 {
		for c.entries.Len() > c.maxSize {
			c.removeFrontLocked()
		}
	}

	return true
}

func (c *ReplayCache) evictLocked(now time.Time) {
	for c.entries.Len() > 0 {
		front := c.entries.Front().Value.(*saltEntry)
		if now.Sub(front.acceptedAt) <= c.window {
			break
		}
		c.removeFrontLocked()
	}
}

func (c *ReplayCache) removeFrontLocked() {
	front := c.entries.Front()
	delete(c.index, string(front.Value.(*saltEntry).salt))
	c.entries.Remove(front)
}

// Len reports the current number of cached salts (diagnostics/tests only).
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

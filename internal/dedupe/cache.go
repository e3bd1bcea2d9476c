// ABOUTME: Thread-safe TTL cache of already-applied feed event keys
// ABOUTME: Suppresses double-apply when the push channel replays after reconnect

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache tracks which event keys have already been applied to the session
// store, with a TTL and a hard size cap. Insertion order is kept in a
// linked list so eviction of the oldest key is O(1).
type Cache struct {
	mu      sync.Mutex
	applied map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. A background goroutine sweeps expired keys every
// sweepEvery; pass 0 for the default of one minute.
func New(ttl time.Duration, maxSize int, sweepEvery time.Duration) *Cache {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	c := &Cache{
		applied: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepEvery)
	return c
}

// Seen atomically checks whether the key was applied within the TTL and
// marks it if not. Returns true for a replay (caller should drop the
// event), false when the key is fresh and now recorded. The check and
// mark are one critical section, so two goroutines racing on the same key
// cannot both see it as fresh.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.applied[key]; ok && time.Since(e.at) < c.ttl {
		return true
	}
	c.mark(key)
	return false
}

// Forget drops a key so the next occurrence is treated as fresh.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.applied[key]; ok {
		c.order.Remove(e.elem)
		delete(c.applied, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.applied)
}

// mark must be called with mu held.
func (c *Cache) mark(key string) {
	now := time.Now()
	if e, ok := c.applied[key]; ok {
		e.at = now
		c.order.MoveToBack(e.elem)
		return
	}
	if len(c.applied) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.applied, oldest)
		}
	}
	c.applied[key] = &entry{at: now, elem: c.order.PushBack(key)}
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.applied {
		if now.Sub(e.at) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.applied, key)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

// ABOUTME: Thread-safe TTL cache of (source, event id) pairs already fanned out.
// ABOUTME: Keeps keys in arrival order so expiry and overflow evict from the front.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry is one remembered key. Elements in Cache.order hold *entry.
type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers event keys for a TTL, bounded by a maximum size.
// Because a key is only (re)inserted when it is new or expired, the list is
// ordered by seenAt and expiry can stop at the first live entry.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts a background goroutine that expires old keys
// every ttl/2 (at most once a minute). Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.expireLoop()
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

func key(source, eventID string) string {
	return source + "\x00" + eventID
}

// Seen reports whether the event was already recorded within the TTL and
// records it if not. The check and the mark happen atomically, so two racing
// submissions of the same event see exactly one false.
func (c *Cache) Seen(source, eventID string) bool {
	k := key(source, eventID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[k]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		c.order.Remove(el)
		delete(c.index, k)
	}

	for c.order.Len() >= c.maxSize {
		c.removeFront()
	}
	c.index[k] = c.order.PushBack(&entry{key: k, seenAt: now})
	return false
}

// Len returns the number of remembered keys, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// removeFront must be called with mu held.
func (c *Cache) removeFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}

// expire drops keys older than the TTL and returns how many were dropped.
func (c *Cache) expire() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*entry).seenAt) < c.ttl {
			break
		}
		c.removeFront()
		n++
	}
	return n
}

func (c *Cache) expireLoop() {
	interval := min(c.ttl/2, time.Minute)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

// Close stops the expiry goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

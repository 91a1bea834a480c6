// ABOUTME: Tests for the event dedupe cache.
// ABOUTME: Covers TTL expiry, per-source keys, size bound and concurrent check-and-mark.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func newTestCache(ttl time.Duration, size int) (*Cache, *manualClock) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	return newCache(ttl, size, clock.Now), clock
}

func TestCache_FirstSubmissionIsNew(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	assert.False(t, c.Seen("agent-1", "evt-1"))
	assert.True(t, c.Seen("agent-1", "evt-1"))
}

func TestCache_KeysAreScopedBySource(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)
	assert.False(t, c.Seen("agent-1", "evt-1"))
	assert.False(t, c.Seen("agent-2", "evt-1"), "same event id from a different source is distinct")
}

func TestCache_ExpiredKeyIsNewAgain(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	c.Seen("a", "e")

	clock.Advance(61 * time.Second)
	assert.False(t, c.Seen("a", "e"))
	assert.True(t, c.Seen("a", "e"))
}

func TestCache_ExpireStopsAtFirstLiveEntry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)
	c.Seen("a", "old-1")
	c.Seen("a", "old-2")
	clock.Advance(45 * time.Second)
	c.Seen("a", "new")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 2, c.expire())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("a", "new"))
}

func TestCache_SizeBoundEvictsOldest(t *testing.T) {
	c, _ := newTestCache(time.Hour, 3)
	for i := range 4 {
		c.Seen("a", fmt.Sprint(i))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a", "0"), "oldest key should have been evicted")
}

func TestCache_ConcurrentSeenReportsNewExactlyOnce(t *testing.T) {
	c, _ := newTestCache(time.Hour, 1000)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("agent", "same-event") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}

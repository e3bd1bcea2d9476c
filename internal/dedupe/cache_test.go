// ABOUTME: Tests for the applied-event TTL cache
// ABOUTME: Covers check-and-mark atomicity, TTL expiry, size-cap eviction

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeenMarksOnFirstUse(t *testing.T) {
	c := New(time.Minute, 100, 0)
	defer c.Close()

	assert.False(t, c.Seen("evt-1"))
	assert.True(t, c.Seen("evt-1"))
	assert.False(t, c.Seen("evt-2"))
}

func TestSeenExpiresAfterTTL(t *testing.T) {
	c := New(20*time.Millisecond, 100, 0)
	defer c.Close()

	require.False(t, c.Seen("evt-1"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Seen("evt-1"), "expired key counts as fresh")
}

func TestForget(t *testing.T) {
	c := New(time.Minute, 100, 0)
	defer c.Close()

	require.False(t, c.Seen("evt-1"))
	c.Forget("evt-1")
	assert.False(t, c.Seen("evt-1"))
}

func TestSizeCapEvictsOldest(t *testing.T) {
	c := New(time.Minute, 3, 0)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.Seen(fmt.Sprintf("evt-%d", i))
	}
	require.Equal(t, 3, c.Len())

	c.Seen("evt-3")
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("evt-0"), "oldest key was evicted")
}

func TestReuseMovesKeyToBack(t *testing.T) {
	c := New(time.Minute, 2, 0)
	defer c.Close()

	c.Seen("a")
	c.Seen("b")
	c.Seen("a") // refresh a; b is now oldest
	c.Seen("c") // evicts b

	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
}

func TestBackgroundSweepRemovesExpired(t *testing.T) {
	c := New(10*time.Millisecond, 100, 15*time.Millisecond)
	defer c.Close()

	c.Seen("evt-1")
	assert.Eventually(t, func() bool { return c.Len() == 0 },
		500*time.Millisecond, 10*time.Millisecond)
}

func TestConcurrentSeenAdmitsExactlyOne(t *testing.T) {
	c := New(time.Minute, 100, 0)
	defer c.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("contested") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 100, 0)
	c.Close()
	c.Close()
}

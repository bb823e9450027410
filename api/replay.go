package api

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// replayCache remembers signed request digests until they expire.
type replayCache struct {
	mu     sync.Mutex
	seen   map[common.Hash]time.Time
	claims uint64
}

func newReplayCache() *replayCache {
	return &replayCache{seen: make(map[common.Hash]time.Time)}
}

// claim records digest until expiry. It returns false when digest was
// already claimed and has not expired.
func (c *replayCache) claim(digest common.Hash, expiry, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.seen[digest]; ok && now.Before(exp) {
		return false
	}
	c.seen[digest] = expiry

	c.claims++
	if c.claims%256 == 0 {
		c.evict(now)
	}
	return true
}

func (c *replayCache) evict(now time.Time) {
	for d, exp := range c.seen {
		if !now.Before(exp) {
			delete(c.seen, d)
		}
	}
}

func (c *replayCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

package reconcile

import (
	"sync"
	"time"
)

// AttemptCache remembers payments this process already reconciled so that an
// overlapping sweep does not call the verification endpoint again before the
// order store reflects the new transaction id.
type AttemptCache struct {
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewAttemptCache(ttl time.Duration) *AttemptCache {
	return &AttemptCache{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (c *AttemptCache) Seen(paymentID string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.seen[paymentID]
	if !ok {
		return false
	}
	if c.now().Sub(at) >= c.ttl {
		delete(c.seen, paymentID)
		return false
	}
	return true
}

func (c *AttemptCache) Remember(paymentID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, id)
		}
	}
	c.seen[paymentID] = now
}

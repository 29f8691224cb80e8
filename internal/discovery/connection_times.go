package discovery

import (
	"sync"
	"time"
)

// ConnectionTimes remembers when each device was first seen online. Entries
// outlive Device values and are cleared when the device goes offline or is
// removed.
type ConnectionTimes interface {
	// Observe returns the stored time for id, storing now if there is none.
	Observe(id string, now time.Time) time.Time
	Clear(id string)
}

// MemoryConnectionTimes is an in-process ConnectionTimes.
type MemoryConnectionTimes struct {
	mu    sync.Mutex
	times map[string]time.Time
}

// NewMemoryConnectionTimes creates an empty table.
func NewMemoryConnectionTimes() *MemoryConnectionTimes {
	return &MemoryConnectionTimes{times: make(map[string]time.Time)}
}

// Observe implements ConnectionTimes.
func (c *MemoryConnectionTimes) Observe(id string, now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.times[id]; ok {
		return t
	}
	c.times[id] = now
	return now
}

// Clear implements ConnectionTimes.
func (c *MemoryConnectionTimes) Clear(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.times, id)
}

// Get returns the stored time for id.
func (c *MemoryConnectionTimes) Get(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.times[id]
	return t, ok
}

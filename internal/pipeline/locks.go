package pipeline

import "sync"

// convLocks serializes pipeline work per conversation: events for the
// same conversation apply in order while unrelated conversations proceed
// concurrently. Entries are never reclaimed; the set of active
// conversations is small and long-lived.
type convLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[int64]*sync.Mutex)}
}

// acquire locks the conversation and returns its unlock function.
func (c *convLocks) acquire(conversationID int64) func() {
	c.mu.Lock()
	l, ok := c.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[conversationID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

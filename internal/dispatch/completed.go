package dispatch

import "time"

// completedSet is a bounded FIFO of recently completed task ids, used for
// idempotent duplicate detection (C8). Backed by a ring buffer plus a hash
// index so membership is O(1) and eviction never traverses (§9).
type completedSet struct {
	max   int
	index map[string]time.Time
	order []string // FIFO order, oldest first
	head  int      // logical start of order (for O(1) eviction without slice copy churn)
}

func newCompletedSet(max int) *completedSet {
	if max <= 0 {
		max = 1000
	}
	return &completedSet{
		max:   max,
		index: make(map[string]time.Time, max),
		order: make([]string, 0, max),
	}
}

// add records taskID as completed at t, evicting the oldest entry if the
// set would exceed max. Re-adding an id already present is a no-op on
// ordering (it simply refreshes the timestamp).
func (c *completedSet) add(taskID string, t time.Time) {
	if _, exists := c.index[taskID]; exists {
		c.index[taskID] = t
		return
	}

	c.index[taskID] = t
	c.order = append(c.order, taskID)

	for len(c.order)-c.head > c.max {
		oldest := c.order[c.head]
		delete(c.index, oldest)
		c.head++
	}

	// Compact occasionally so order doesn't grow unbounded.
	if c.head > c.max {
		c.order = append([]string(nil), c.order[c.head:]...)
		c.head = 0
	}
}

func (c *completedSet) contains(taskID string) bool {
	_, ok := c.index[taskID]
	return ok
}

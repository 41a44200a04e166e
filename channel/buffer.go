package channel

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/danmuck/mediactl/internal/observability"
)

// BufferMessagesGuard defers notification delivery for one target until
// released. It closes the race between locally allocating an entity id and
// the engine acknowledging that entity's existence: the engine may emit
// notifications about the id before the local handle object exists.
type BufferMessagesGuard struct {
	c        *Channel
	target   string
	released atomic.Bool
}

// BufferMessagesFor activates the buffering gate for target. Notifications
// addressed to target queue in arrival order until the guard is released.
// A target may have at most one active guard; a second call for the same
// still-active target is a caller bug.
func (c *Channel) BufferMessagesFor(target string) *BufferMessagesGuard {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buffers[target]; ok {
		panic(fmt.Sprintf("channel: target %q already has an active buffer guard", target))
	}
	c.buffers[target] = &bufferQueue{}
	return &BufferMessagesGuard{c: c, target: target}
}

// Release drains the queue to subscribers in original arrival order, then
// deactivates the gate. Subsequent calls are no-ops.
func (g *BufferMessagesGuard) Release() {
	if g == nil || !g.released.CompareAndSwap(false, true) {
		return
	}
	g.c.releaseBuffer(g.target)
}

// releaseBuffer flushes queued notifications. The gate stays active until the
// queue is observed empty, so notifications arriving mid-flush queue behind
// the batch being delivered and per-target order holds.
func (c *Channel) releaseBuffer(target string) {
	for {
		c.mu.Lock()
		q, ok := c.buffers[target]
		if !ok {
			c.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			delete(c.buffers, target)
			c.mu.Unlock()
			return
		}
		batch := q.items
		q.items = nil
		subs := slices.Clone(c.subs[target])
		c.mu.Unlock()

		for _, n := range batch {
			for _, s := range subs {
				s.fn(n)
			}
			observability.RecordNotification("flushed")
		}
	}
}

package outbox

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
)

// Queue holds commands issued while no connection is open. It is drained in
// submission order once the transport reopens. The queue lives in memory only.
type Queue struct {
	mu      sync.Mutex
	items   []protocol.Command
	metrics *metrics.Metrics
}

// NewQueue creates an empty queue.
func NewQueue(m *metrics.Metrics) *Queue {
	return &Queue{metrics: m}
}

// Push appends cmd and returns the new length.
func (q *Queue) Push(cmd protocol.Command) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cmd)
	q.metrics.SetQueued(len(q.items))
	return len(q.items)
}

// PushFront puts cmds back at the head, keeping their relative order.
// Used when a drained command could not be written.
func (q *Queue) PushFront(cmds ...protocol.Command) {
	if len(cmds) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]protocol.Command, 0, len(cmds)+len(q.items))
	items = append(items, cmds...)
	q.items = append(items, q.items...)
	q.metrics.SetQueued(len(q.items))
}

// Drain removes and returns every queued command, oldest first.
func (q *Queue) Drain() []protocol.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.metrics.SetQueued(0)
	return items
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

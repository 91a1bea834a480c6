// ABOUTME: Bounded FIFO of commands waiting for a pull session to poll.
// ABOUTME: Overflow drops the oldest command and reports it through a callback.

package session

import "sync"

// DefaultQueueCapacity bounds a pull session's queue when no capacity is configured.
const DefaultQueueCapacity = 256

// Queue is a bounded FIFO of commands. When full, pushing drops the oldest
// command so the most recent instructions always get through.
type Queue struct {
	mu       sync.Mutex
	items    []Command
	capacity int
	onDrop   func(Command)
}

// NewQueue creates a queue. capacity <= 0 uses DefaultQueueCapacity.
// onDrop may be nil.
func NewQueue(capacity int, onDrop func(Command)) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{capacity: capacity, onDrop: onDrop}
}

// Push appends a command, evicting the oldest one if the queue is full.
func (q *Queue) Push(cmd Command) {
	q.mu.Lock()
	var dropped *Command
	if len(q.items) >= q.capacity {
		oldest := q.items[0]
		dropped = &oldest
		q.items = q.items[1:]
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	if dropped != nil && q.onDrop != nil {
		q.onDrop(*dropped)
	}
}

// Drain returns every queued command in FIFO order and empties the queue in the
// same critical section. A concurrent Push lands either in this result or in
// the next drain, never both.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	if out == nil {
		return []Command{}
	}
	return out
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

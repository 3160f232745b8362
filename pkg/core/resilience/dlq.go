//
//  Copyright © Manetu Inc. All rights reserved.
//

package resilience

import (
	"sync"
	"time"
)

// DeadLetter is a persistence operation that exhausted its retries.
type DeadLetter struct {
	Op        string    `json:"op"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// DLQ is a bounded dead-letter queue. When full, the oldest entry is
// discarded so the most recent failures are always retained.
type DLQ struct {
	mu       sync.Mutex
	items    []DeadLetter
	capacity int
	dropped  uint64
}

// NewDLQ creates a queue bounded to capacity entries.
func NewDLQ(capacity int) *DLQ {
	return &DLQ{capacity: capacity}
}

// Enqueue records a dead letter.
func (q *DLQ) Enqueue(letter DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		logger.SysWarnf("dead-letter queue full, dropped oldest entry (%d dropped total)", q.dropped)
	}
	q.items = append(q.items, letter)
}

// Drain removes and returns all queued letters, oldest first.
func (q *DLQ) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued letters.
func (q *DLQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many letters were discarded due to capacity.
func (q *DLQ) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

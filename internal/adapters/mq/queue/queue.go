// Package queue is the inbox between producers (transports, HTTP, bots) and
// the single goroutine that owns a match.
//
// Enqueue never blocks: a full or closed queue rejects the item and the
// producer decides what to do with it.
package queue

import (
	"context"
	"sync"

	"github.com/okian/reciperage/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 4096
	defaultBufferSize    = 4096
)

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue[T any] interface {
	// Enqueue adds an item to the queue.
	// Returns false if the queue is full or closed and the item was not enqueued.
	Enqueue(ctx context.Context, item T) bool

	// Dequeue returns a channel that receives items as they become available.
	// The channel is closed when the queue is closed or ctx is done.
	Dequeue(ctx context.Context) <-chan T

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting items and closes the dequeue channel once drained.
	Close() error

	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue[T any] struct {
	items      chan T
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue[T any](opts ...Option) *InMemoryQueue[T] {
	cfg := settings{capacity: defaultQueueCapacity, bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.bufferSize < cfg.capacity {
		cfg.bufferSize = cfg.capacity
	}

	q := &InMemoryQueue[T]{
		items:      make(chan T, cfg.bufferSize),
		capacity:   cfg.capacity,
		bufferSize: cfg.bufferSize,
	}

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds an item to the queue.
func (q *InMemoryQueue[T]) Enqueue(ctx context.Context, item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	if len(q.items) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}

	select {
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
	}

	select {
	case q.items <- item:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives items as they become available.
func (q *InMemoryQueue[T]) Dequeue(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-q.items:
				if !ok {
					return
				}
				select {
				case out <- item:
					metrics.RecordQueueDequeue()
					q.observe()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Drain removes every queued item without blocking.
func (q *InMemoryQueue[T]) Drain() []T {
	var out []T
	for {
		select {
		case item, ok := <-q.items:
			if !ok {
				return out
			}
			out = append(out, item)
		default:
			q.observe()
			return out
		}
	}
}

// Len returns the current number of queued items.
func (q *InMemoryQueue[T]) Len(_ context.Context) int {
	q.observe()
	return len(q.items)
}

func (q *InMemoryQueue[T]) observe() {
	size := len(q.items)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue[T]) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

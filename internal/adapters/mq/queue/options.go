package queue

type settings struct {
	capacity   int
	bufferSize int
}

// Option applies a configuration option to an InMemoryQueue.
type Option func(*settings)

// WithCapacity sets the maximum capacity of the queue.
func WithCapacity(capacity int) Option {
	return func(s *settings) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

// WithBufferSize sets the buffer size of the underlying channel. It is raised to the capacity when smaller.
func WithBufferSize(size int) Option {
	return func(s *settings) {
		if size > 0 {
			s.bufferSize = size
		}
	}
}

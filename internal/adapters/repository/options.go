package repository

import "time"

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithSnapshotInterval sets how often the read snapshot is rebuilt.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(s *TreapStore) {
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}

// WithTopCacheSize sets how many leading entries a snapshot keeps.
func WithTopCacheSize(n int) Option {
	return func(s *TreapStore) {
		if n > 0 {
			s.topCacheSize = n
		}
	}
}

// WithSeed fixes the treap priorities, for reproducible tests.
func WithSeed(seed uint64) Option {
	return func(s *TreapStore) { s.seed = seed }
}

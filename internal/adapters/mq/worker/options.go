package worker

import (
	"github.com/okian/reciperage/pkg/logger"
)

// Option applies a configuration option to a StationWorker.
type Option func(*StationWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *StationWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *StationWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

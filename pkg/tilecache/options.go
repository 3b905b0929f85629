package tilecache

import (
	"log/slog"
)

type settings struct {
	logger *slog.Logger
}

// Option customizes cache construction.
type Option func(*settings)

// WithLogger sets the structured logger the cache logs through. The default
// is slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

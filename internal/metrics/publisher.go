package metrics

import "time"

// Publisher sends cache metrics to an external sink.
type Publisher interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
	Count(name string, value int64, tags ...string)
	Timing(name string, duration time.Duration, tags ...string)
	Close() error
}

// NoOpPublisher is a no-operation publisher for testing or when disabled.
type NoOpPublisher struct{}

// NewNoOpPublisher creates a new no-op publisher.
func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

// Gauge does nothing.
func (p *NoOpPublisher) Gauge(name string, value float64, tags ...string) {}

// Incr does nothing.
func (p *NoOpPublisher) Incr(name string, tags ...string) {}

// Count does nothing.
func (p *NoOpPublisher) Count(name string, value int64, tags ...string) {}

// Timing does nothing.
func (p *NoOpPublisher) Timing(name string, duration time.Duration, tags ...string) {}

// Close does nothing.
func (p *NoOpPublisher) Close() error { return nil }

var _ Publisher = (*NoOpPublisher)(nil)

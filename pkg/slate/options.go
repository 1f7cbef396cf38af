package slate

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger. nil silences logging.
func WithLogger(l Logger) Option {
	return func(c *Coordinator) {
		if l == nil {
			l = noopLogger{}
		}
		c.logger = l
	}
}

// WithMetrics exports coordinator activity through m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithMaxConcurrentReads bounds the number of reads running at once.
// Zero or a negative value leaves reads unbounded.
func WithMaxConcurrentReads(n int) Option {
	return func(c *Coordinator) { c.queue.maxReads = n }
}

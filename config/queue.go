package config

// QueueBackend selects the Queue implementation the scheduler enqueues onto
// and workers consume from. Equivalent to pulsar's task_queue_factory setting.
type QueueBackend string

const (
	// QueueBackendInProcess uses an in-memory bounded channel; only valid when
	// the scheduler and all workers share one process (tests, single-binary dev mode).
	QueueBackendInProcess QueueBackend = "inprocess"
	// QueueBackendRedis uses a Redis list as the cross-process FIFO.
	QueueBackendRedis QueueBackend = "redis"
)

// QueueConfig configures the Queue component (spec §4.4).
type QueueConfig struct {
	Backend  QueueBackend `env:"BACKEND"   envDefault:"inprocess"`
	Capacity int          `env:"CAPACITY"  envDefault:"1000"`
	// Key is the Redis list key used when Backend is QueueBackendRedis.
	Key string `env:"KEY" envDefault:"relayq:tasks"`
}

// Sanitize clamps QueueConfig to safe values.
func (c *QueueConfig) Sanitize() {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.Backend != QueueBackendRedis {
		c.Backend = QueueBackendInProcess
	}
	if c.Key == "" {
		c.Key = "relayq:tasks"
	}
}

package broker

import "errors"

var (
	// ErrNoQueues is returned when a broker configuration declares no queues.
	ErrNoQueues = errors.New("broker config must declare at least one queue")
	// ErrQueueNameMissing is returned when a queue entry in the config omits its name.
	ErrQueueNameMissing = errors.New("queue entry missing name")
)

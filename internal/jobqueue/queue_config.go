/*
Package jobqueue configuration - tunable parameters for the River job queue.

Increase MaxWorkers for more concurrent repository syncs; each running sync
holds its own share of the connection pool and its own GitHub rate-limit
budget, so the useful ceiling is low. MaxAttempts covers transient outages
of the GitHub API or the database between job attempts; within a running
job the fetch and store layers carry their own retry behavior.
*/
package jobqueue

import (
	"github.com/riverqueue/river"
)

// QueueConfig holds the configurable parameters for the job queue.
type QueueConfig struct {
	MaxWorkers  int // concurrent synchronization jobs (default: 2)
	MaxAttempts int // attempts per job before River gives up (default: 5)
}

// DefaultQueueConfig returns the queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  2,
		MaxAttempts: 5,
	}
}

// RiverQueueConfig converts our config to River's queue configuration format.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}

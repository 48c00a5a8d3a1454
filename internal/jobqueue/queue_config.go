/*
Package jobqueue runs admin maintenance work on a River queue backed by the
same Postgres database as the stores.

## Tuning:
  - MaxWorkers bounds concurrent jobs. Merge runs are also serialized by a lock,
    so more than a couple of workers only helps if other job kinds are added.
  - JobTimeout bounds one merge run; LockTTL must exceed it.
  - MaxAttempts applies to runs that fail outright; per-group merge failures
    are reported, not retried.

## Database Requirements:
- River schema migrations, applied by Migrate.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

type QueueConfig struct {
	MaxWorkers  int           // concurrent jobs on the default queue (default: 2)
	MaxAttempts int           // attempts for a failed run (default: 3)
	JobTimeout  time.Duration // one merge run (default: 30 minutes)
	LockTTL     time.Duration // cross-instance merge lock (default: JobTimeout + 5 minutes)
	SnoozeFor   time.Duration // delay when another instance holds the lock (default: 1 minute)
	LogDir      string        // per-run log files; empty disables them
}

func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  2,
		MaxAttempts: 3,
		JobTimeout:  30 * time.Minute,
		LockTTL:     35 * time.Minute,
		SnoozeFor:   time.Minute,
		LogDir:      "merge_logs",
	}
}

// WithMaxWorkers returns a copy with MaxWorkers set when n is positive.
func (c QueueConfig) WithMaxWorkers(n int) *QueueConfig {
	if n > 0 {
		c.MaxWorkers = n
	}
	return &c
}

// RiverQueueConfig converts to River's queue map.
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: c.MaxWorkers},
	}
}

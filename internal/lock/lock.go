// Package lock provides the run-level mutual exclusion used by the pipeline.
package lock

import (
	"context"
	"time"
)

// Lease is a held lock
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out named leases. TryLock never waits: when the name is
// already held it returns ok == false.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
}

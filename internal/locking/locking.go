package locking

import (
	"context"
	"errors"
)

// ErrNotObtained is returned when a lock could not be acquired before the
// context ended.
var ErrNotObtained = errors.New("locking: lock not obtained")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires per-key exclusive leases.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

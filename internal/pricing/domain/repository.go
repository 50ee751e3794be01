package pricing

import (
	"context"
	"time"
)

// Repository persists versions of keyed values.
type Repository interface {
	// ListVersions returns every row stored for the key, including inactive
	// and superseded ones, ordered by EffectiveFrom.
	ListVersions(ctx context.Context, key Key) ([]Version, error)
	// ListCovering returns the usable versions of the key covering day.
	ListCovering(ctx context.Context, key Key, day time.Time) ([]Version, error)
	// HasKey reports whether any usable row is stored under key exactly as
	// given.
	HasKey(ctx context.Context, key Key) (bool, error)
	// ListOpenPrimaryKeys returns the primary keys of kind that carry an open
	// usable version for the manufacturer.
	ListOpenPrimaryKeys(ctx context.Context, kind Kind, manufacturer string) ([]string, error)

	Insert(ctx context.Context, version Version) error
	SetEffectiveTo(ctx context.Context, id string, to time.Time, actor string, at time.Time) error
	Supersede(ctx context.Context, id string, actor string, at time.Time) error
	Activate(ctx context.Context, id string, actor string, at time.Time) error
}

// TxManager runs fn inside one transaction. Writes made through a
// Repository with the returned context commit or roll back together.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// KeyLocker serializes writers of one key for the lifetime of the current
// transaction.
type KeyLocker interface {
	LockKey(ctx context.Context, key Key) error
}

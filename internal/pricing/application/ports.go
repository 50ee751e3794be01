package application

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManufacturerKeyCache maps a raw manufacturer lookup to the stored key that
// answered it.
type ManufacturerKeyCache interface {
	GetOrLoad(ctx context.Context, lookup string, load func(ctx context.Context) (string, bool, error)) (string, bool, error)
	Purge()
}

// IDGenerator returns new version ids.
type IDGenerator func() string

func newVersionID() string {
	return "pv-" + uuid.NewString()
}

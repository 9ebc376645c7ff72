package interfaces

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// IExternalCache is the optional distributed cache tier.
// -----------------------------------------------------------------------------

type IExternalCache interface {

	// Available reports whether the tier answered its last health check.
	Available() bool

	// -----------------------------------------------------------------------------

	// Get returns the stored bytes and their remaining lifetime, false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error)

	// -----------------------------------------------------------------------------

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// -----------------------------------------------------------------------------

	Delete(ctx context.Context, keys ...string) error

	// -----------------------------------------------------------------------------

	Close() error
}

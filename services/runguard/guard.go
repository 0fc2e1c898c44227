// Package runguard grants short-lived exclusive leases so that at most one
// computation runs per audit at a time.
package runguard

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// releaseTimeout bounds a lease release after the caller's context is gone
const releaseTimeout = 5 * time.Second

// ErrHeld is returned when another holder owns a live lease for the key
var ErrHeld = errors.New("run lease is held")

// Guard hands out exclusive leases keyed by audit id
type Guard interface {
	// Acquire returns ErrHeld when the key is already leased
	Acquire(ctx context.Context, key string) (*Lease, error)
}

// Lease is an exclusive hold on a key identified by a unique token
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time

	release func(ctx context.Context) error
}

// Release gives the lease back. It only removes the lease if the token still
// matches, and it runs on a context detached from the caller's cancellation.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.release == nil {
		return nil
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return l.release(releaseCtx)
}

// NewToken returns a new lexically sortable run token
func NewToken() string {
	return ulid.Make().String()
}

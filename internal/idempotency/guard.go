// Package idempotency suppresses repeated sends of the same logical email
// within a time window.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/mailstream/mailstream/internal/model"
)

// DefaultTTL is how long a key is remembered after its first use
const DefaultTTL = 5 * time.Minute

// Store records dedup keys with an expiry.
//
// SetIfAbsent must be atomic: it returns true and records the key with
// now+ttl when no live record exists, and returns false without touching the
// existing expiry otherwise.
type Store interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Guard is the check-and-set front for a Store
type Guard struct {
	store Store
	ttl   time.Duration
}

// NewGuard creates a Guard. A zero ttl falls back to DefaultTTL.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// CheckAndSet returns true if the payload has not been seen inside the TTL
// window and records it. A false result means the caller must not send.
func (g *Guard) CheckAndSet(ctx context.Context, p *model.EmailPayload) (bool, error) {
	first, err := g.store.SetIfAbsent(ctx, p.DedupKey(), g.ttl)
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	return first, nil
}

// TTL returns the window used for new records
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

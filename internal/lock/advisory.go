package lock

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Advisory uses postgres transaction-scoped advisory locks. The lock is held
// until the surrounding transaction ends, so release is a no-op.
type Advisory struct {
	// WaitTimeout bounds how long a single acquisition may block. Zero leaves
	// the server's lock_timeout untouched.
	WaitTimeout time.Duration
}

func NewAdvisory(waitTimeout time.Duration) *Advisory {
	return &Advisory{WaitTimeout: waitTimeout}
}

func (a *Advisory) Acquire(ctx context.Context, db *gorm.DB, key Key) (func(), error) {
	class, err := key.Domain.class()
	if err != nil {
		return nil, err
	}
	tx := db.WithContext(ctx)
	if a.WaitTimeout > 0 {
		timeout := fmt.Sprintf("%dms", a.WaitTimeout.Milliseconds())
		if err := tx.Exec("SELECT set_config('lock_timeout', ?, true)", timeout).Error; err != nil {
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", class, key.object()).Error; err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	return func() {}, nil
}

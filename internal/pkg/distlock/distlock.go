// Package distlock serializes pipeline runs. Both output tables are written
// as full replacements; two concurrent runs interleaving their overwrites
// would leave a table no single run produced, so each stage takes a run lock
// before writing.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// ErrHeld is returned by Run when another process holds the stage lock.
var ErrHeld = fmt.Errorf("pipeline stage is already running elsewhere")

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// If db is non-nil, falls back to PostgreSQL advisory locks. With neither,
// returns a no-op lock: a CSV-only single-machine run has nothing to guard
// against but itself.
func NewLock(redisClient *redis.Client, db *sql.DB, stage string, ttl time.Duration) DistLock {
	key := fmt.Sprintf("pipeline:%s", stage)
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	if db != nil {
		return NewPGAdvisoryLock(db, key)
	}
	return noopLock{}
}

// extender is implemented by locks whose expiry can be pushed out while the
// holder is still working.
type extender interface {
	Extend(ctx context.Context) error
	TTL() time.Duration
}

// Run acquires the stage lock, runs fn, and releases. A held lock returns
// ErrHeld without running fn. Locks with a TTL are extended in the
// background at a third of their lifetime, so a run outlasting the initial
// TTL cannot lose the lock mid-write.
func Run(ctx context.Context, lock DistLock, fn func(context.Context) error) error {
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	defer lock.Release(ctx)

	if ext, ok := lock.(extender); ok && ext.TTL() > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go keepAlive(ctx, ext, stop)
	}
	return fn(ctx)
}

func keepAlive(ctx context.Context, ext extender, stop <-chan struct{}) {
	ticker := time.NewTicker(ext.TTL() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ext.Extend(ctx); err != nil {
				logger.Warn("extending run lock", "error", err)
			}
		}
	}
}

type noopLock struct{}

func (noopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (noopLock) Release(context.Context) error         { return nil }

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped.
// The lock is automatically released if the DB connection drops, providing
// crash-safety similar to Redis TTL expiration.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

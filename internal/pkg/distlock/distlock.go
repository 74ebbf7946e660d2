package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Factory.TryLock when another holder owns the key.
var ErrHeld = errors.New("lock held by another request")

// DistLock is a single-owner lock on one key.
type DistLock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release drops the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// ErasureKey names the lock that serializes erasures of one subject.
func ErasureKey(identifierHash string) string {
	return "dsr:erasure:" + identifierHash
}

// Factory hands out locks on the configured backend. Redis is preferred;
// without it, Postgres advisory locks are used; with neither, locking is a
// no-op.
type Factory struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

// NewFactory creates a lock factory. Either backend may be nil.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Factory {
	return &Factory{redis: redisClient, db: db, ttl: ttl}
}

// New returns an unacquired lock for key.
func (f *Factory) New(key string) DistLock {
	switch {
	case f.redis != nil:
		return NewRedisLock(f.redis, key, f.ttl)
	case f.db != nil:
		return NewPGAdvisoryLock(f.db, key)
	default:
		return noopLock{}
	}
}

// TryLock acquires key or returns ErrHeld. The returned func releases it.
// A Redis lock is extended every half TTL until then, so an erasure that
// outlives the TTL keeps its lock.
func (f *Factory) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	l := f.New(key)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}

	rl, isRedis := l.(*RedisLock)
	if !isRedis || f.ttl <= 0 {
		return l.Release, nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go rl.keepAlive(context.WithoutCancel(ctx), f.ttl/2, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		return l.Release(ctx)
	}, nil
}

type noopLock struct{}

func (noopLock) Acquire(context.Context) (bool, error) { return true, nil }
func (noopLock) Release(context.Context) error         { return nil }

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a
// session, so Acquire pins one pooled connection and Release unlocks on that
// same connection before handing it back.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable advisory lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock %d: pin connection: %w", l.lockID, err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	conn := l.conn
	if conn == nil {
		return nil
	}
	l.conn = nil
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.lockID, err)
	}
	if !released {
		return fmt.Errorf("advisory unlock %d: lock not held by this session", l.lockID)
	}
	return nil
}

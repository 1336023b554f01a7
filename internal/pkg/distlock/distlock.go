// Package distlock provides short-lived distributed locks used to keep
// two dispatch workers from starting the same campaign at once. Redis
// is the preferred backend; PostgreSQL advisory locks are the fallback
// when no Redis client is configured.
package distlock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-use, single-goroutine lock handle.
type Lock interface {
	// TryAcquire attempts to take the lock without blocking. Returns
	// true when this handle now owns it.
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this handle still owns it.
	Release(ctx context.Context) error
}

// New returns a lock on the best available backend: Redis when a client
// is given, otherwise a PostgreSQL advisory lock.
func New(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if rdb != nil {
		return newRedisLock(rdb, key, ttl)
	}
	return newAdvisoryLock(db, key)
}

// redisLock uses SET NX with a TTL and a random owner token so a
// crashed holder expires instead of wedging the pipeline. Release is a
// Lua compare-and-delete so we never drop someone else's lock.
type redisLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func newRedisLock(rdb *redis.Client, key string, ttl time.Duration) *redisLock {
	buf := make([]byte, 16)
	rand.Read(buf)
	return &redisLock{
		rdb:   rdb,
		key:   "lock:" + key,
		token: hex.EncodeToString(buf),
		ttl:   ttl,
	}
}

func (l *redisLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}

// advisoryLock maps the key to a 64-bit advisory lock ID. Session
// scoped: the lock dies with the connection, which gives crash safety
// comparable to the Redis TTL.
type advisoryLock struct {
	db     *sql.DB
	lockID int64
}

func newAdvisoryLock(db *sql.DB, key string) *advisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &advisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *advisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.lockID).Scan(&ok)
	return ok, err
}

func (l *advisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.lockID)
	return err
}

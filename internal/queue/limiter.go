package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// limiterLua atomically checks and increments a windowed counter so
// concurrent workers (possibly in different processes) cannot race a
// GET → check → INCR sequence past the limit.
const limiterLua = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current + tonumber(ARGV[1]) > tonumber(ARGV[2]) then
	return {0, current}
end
local new = redis.call("INCRBY", KEYS[1], ARGV[1])
if new == tonumber(ARGV[1]) then
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return {1, new}
`

// Limiter bounds how many jobs a pool may start per time window. One
// limiter guards one topic across every worker and process.
type Limiter struct {
	rdb    *redis.Client
	name   string
	max    int
	window time.Duration
	script *redis.Script
}

// NewLimiter allows at most max acquisitions per window.
func NewLimiter(rdb *redis.Client, name string, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		rdb:    rdb,
		name:   name,
		max:    max,
		window: window,
		script: redis.NewScript(limiterLua),
	}
}

// Allow tries to take n slots from the current window. When denied it
// returns how long to wait before the next window opens.
func (l *Limiter) Allow(ctx context.Context, n int) (allowed bool, wait time.Duration, err error) {
	now := time.Now()
	bucket := now.UnixMilli() / l.window.Milliseconds()
	key := fmt.Sprintf("limiter:%s:%d", l.name, bucket)

	res, err := l.script.Run(ctx, l.rdb, []string{key},
		n, l.max, l.window.Milliseconds()*2).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("limiter %s: %w", l.name, err)
	}

	if res[0].(int64) == 1 {
		return true, 0, nil
	}
	nextWindow := time.UnixMilli((bucket + 1) * l.window.Milliseconds())
	return false, time.Until(nextWindow), nil
}

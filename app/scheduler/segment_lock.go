package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SegmentLocker gives cross-instance exclusion for one segment recomputation.
// The token identifies the holder; only the holder can release.
type SegmentLocker interface {
	Acquire(ctx context.Context, segmentID uint, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, segmentID uint, token string) error
}

func lockKey(prefix string, segmentID uint) string {
	return fmt.Sprintf("%slock:segment:%d", prefix, segmentID)
}

// RedisLocker locks with SET NX PX and releases with compare-and-delete
type RedisLocker struct {
	rc     *redis.Client
	prefix string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(rc *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{rc: rc, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, segmentID uint, token string, ttl time.Duration) (bool, error) {
	return l.rc.SetNX(ctx, lockKey(l.prefix, segmentID), token, ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, segmentID uint, token string) error {
	return releaseScript.Run(ctx, l.rc, []string{lockKey(l.prefix, segmentID)}, token).Err()
}

// MemoryLocker is the single-instance locker used when redis is disabled
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[uint]memoryLock
	clock func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uint]memoryLock), clock: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, segmentID uint, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if cur, ok := l.held[segmentID]; ok && now.Before(cur.expires) {
		return false, nil
	}
	l.held[segmentID] = memoryLock{token: token, expires: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, segmentID uint, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[segmentID]; ok && cur.token == token {
		delete(l.held, segmentID)
	}
	return nil
}

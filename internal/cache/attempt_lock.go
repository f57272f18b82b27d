package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned when another holder owns the lock and it did
// not free up within the acquire timeout.
var ErrLockNotAcquired = fmt.Errorf("attempt lock not acquired")

// AttemptLocker serializes mutations of a single (user, exam) pair. Every
// lifecycle operation that writes an attempt must run under this lock so that
// concurrent starts, saves and submits for the same pair never interleave.
type AttemptLocker interface {
	// Acquire blocks until the lock for (userID, examID) is held or ctx is
	// done. The returned release function must be called exactly once.
	Acquire(ctx context.Context, userID string, examID uint) (release func(), err error)
}

const (
	lockPrefix     = "lock:attempt:"
	lockTTL        = 30 * time.Second
	lockRetryDelay = 25 * time.Millisecond
)

func attemptLockKey(userID string, examID uint) string {
	return fmt.Sprintf("%s%s:%d", lockPrefix, userID, examID)
}

// ===== REDIS LOCK =====

// RedisAttemptLocker implements AttemptLocker with a SETNX lease. The lease
// carries a random token so a crashed holder's expired lease is never
// released by someone else.
type RedisAttemptLocker struct {
	client *redis.Client
}

func NewRedisAttemptLocker(client *redis.Client) *RedisAttemptLocker {
	return &RedisAttemptLocker{client: client}
}

func (l *RedisAttemptLocker) Acquire(ctx context.Context, userID string, examID uint) (func(), error) {
	key := attemptLockKey(userID, examID)
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("attempt lock setnx: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ErrLockNotAcquired
		case <-time.After(lockRetryDelay):
		}
	}

	release := func() {
		// Compare-and-delete so an expired lease taken over by another
		// holder is left alone.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		ctxRel, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.client.Eval(ctxRel, script, []string{key}, token)
	}
	return release, nil
}

// ===== LOCAL LOCK =====

// LocalAttemptLocker is the single-process fallback used when Redis is not
// configured. Mutex entries are created on demand and kept for the process
// lifetime; the key space (active user-exam pairs) stays small.
type LocalAttemptLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalAttemptLocker() *LocalAttemptLocker {
	return &LocalAttemptLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalAttemptLocker) Acquire(ctx context.Context, userID string, examID uint) (func(), error) {
	key := attemptLockKey(userID, examID)

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// NewAttemptLocker picks the Redis lock when a client is available and falls
// back to the in-process lock otherwise.
func NewAttemptLocker(client *redis.Client) AttemptLocker {
	if client == nil {
		return NewLocalAttemptLocker()
	}
	return NewRedisAttemptLocker(client)
}

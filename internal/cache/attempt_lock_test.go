package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisAttemptLocker_MutualExclusion(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisAttemptLocker(client)

	ctx := context.Background()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "user-1", 42)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer release()

			// Read-modify-write with a deliberate gap. Without mutual
			// exclusion some increments get lost.
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 10 {
		t.Errorf("expected 10 serialized increments, got %d", counter)
	}
}

func TestRedisAttemptLocker_DistinctKeysDoNotBlock(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisAttemptLocker(client)
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, "user-1", 1)
	if err != nil {
		t.Fatalf("acquire user-1/1: %v", err)
	}
	defer release1()

	// Different exam, different user: both must be grabbable immediately.
	ctxShort, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	release2, err := locker.Acquire(ctxShort, "user-1", 2)
	if err != nil {
		t.Fatalf("acquire user-1/2 should not block: %v", err)
	}
	release2()

	release3, err := locker.Acquire(ctxShort, "user-2", 1)
	if err != nil {
		t.Fatalf("acquire user-2/1 should not block: %v", err)
	}
	release3()
}

func TestRedisAttemptLocker_AcquireTimesOut(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisAttemptLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "user-1", 7)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	ctxShort, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	if _, err := locker.Acquire(ctxShort, "user-1", 7); err != ErrLockNotAcquired {
		t.Errorf("expected ErrLockNotAcquired, got %v", err)
	}
}

func TestRedisAttemptLocker_ReleaseAllowsReacquire(t *testing.T) {
	client := setupTestRedis(t)
	locker := NewRedisAttemptLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "user-1", 7)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	release()

	ctxShort, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	release2, err := locker.Acquire(ctxShort, "user-1", 7)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	release2()
}

func TestLocalAttemptLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalAttemptLocker()
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "user-1", 42)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer release()

			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Errorf("expected 20 serialized increments, got %d", counter)
	}
}

func TestNewAttemptLocker_FallsBackWithoutRedis(t *testing.T) {
	if _, ok := NewAttemptLocker(nil).(*LocalAttemptLocker); !ok {
		t.Error("expected local locker when redis client is nil")
	}

	client := setupTestRedis(t)
	if _, ok := NewAttemptLocker(client).(*RedisAttemptLocker); !ok {
		t.Error("expected redis locker when client is set")
	}
}

package redis

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client using miniredis for testing
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	return client, mr
}

func cleanupTestRedis(client *redis.Client, mr *miniredis.Miniredis) {
	if client != nil {
		client.Close()
	}
	if mr != nil {
		mr.Close()
	}
}

func testCoordinator(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		Client:       client,
		Logger:       log.Default(),
		ttl:          ttl,
		pollInterval: 5 * time.Millisecond,
	}
}

func TestLockTicketExcludesSecondHolder(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	r := testCoordinator(client, 10*time.Second)
	ctx := context.Background()

	ok, err := r.LockTicket(ctx, "ticket-1", "attempt-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second attempt must time out while the first holds the lock
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	ok, err = r.LockTicket(waitCtx, "ticket-1", "attempt-b")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockTicketDifferentTicketsIndependent(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	r := testCoordinator(client, 10*time.Second)
	ctx := context.Background()

	ok, err := r.LockTicket(ctx, "ticket-1", "attempt-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.LockTicket(ctx, "ticket-2", "attempt-b")
	require.NoError(t, err)
	assert.True(t, ok, "unrelated tickets must not block each other")
}

func TestLockTicketAcquiredAfterRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	r := testCoordinator(client, 10*time.Second)
	ctx := context.Background()

	ok, err := r.LockTicket(ctx, "ticket-1", "attempt-a")
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		ok, err := r.LockTicket(waitCtx, "ticket-1", "attempt-b")
		if err != nil {
			done <- err
			return
		}
		if !ok {
			done <- context.DeadlineExceeded
			return
		}
		done <- nil
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.UnlockTicket(ctx, "ticket-1", "attempt-a"))

	assert.NoError(t, <-done, "waiter should acquire the lock once released")
}

func TestUnlockTicketOwnershipCheck(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	r := testCoordinator(client, 10*time.Second)
	ctx := context.Background()

	ok, err := r.LockTicket(ctx, "ticket-1", "attempt-a")
	require.NoError(t, err)
	require.True(t, ok)

	// A different attempt cannot release someone else's lock
	require.NoError(t, r.UnlockTicket(ctx, "ticket-1", "attempt-b"))
	locked, err := r.IsLocked(ctx, "ticket-1")
	require.NoError(t, err)
	assert.True(t, locked)

	// The owner can
	require.NoError(t, r.UnlockTicket(ctx, "ticket-1", "attempt-a"))
	locked, err = r.IsLocked(ctx, "ticket-1")
	require.NoError(t, err)
	assert.False(t, locked)

	// Unlocking an absent lock is a no-op
	assert.NoError(t, r.UnlockTicket(ctx, "ticket-1", "attempt-a"))
}

func TestLockTicketExpiresByTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	r := testCoordinator(client, time.Second)
	ctx := context.Background()

	ok, err := r.LockTicket(ctx, "ticket-1", "attempt-a")
	require.NoError(t, err)
	require.True(t, ok)

	// miniredis advances TTLs manually
	mr.FastForward(2 * time.Second)

	ok, err = r.LockTicket(ctx, "ticket-1", "attempt-b")
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be reacquirable")
}

func TestLockTicketSerializesCompetingAttempts(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer cleanupTestRedis(client, mr)

	r := testCoordinator(client, 10*time.Second)

	const attempts = 8
	var inCritical int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			ok, err := r.LockTicket(ctx, "ticket-1", token)
			if err != nil || !ok {
				return
			}
			n := atomic.AddInt32(&inCritical, 1)
			if n > atomic.LoadInt32(&maxObserved) {
				atomic.StoreInt32(&maxObserved, n)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inCritical, -1)
			_ = r.UnlockTicket(context.Background(), "ticket-1", token)
		}(gateToken(i))
	}
	wg.Wait()

	assert.LessOrEqual(t, maxObserved, int32(1), "critical section must hold one attempt at a time")
}

func gateToken(i int) string {
	return string(rune('a' + i))
}

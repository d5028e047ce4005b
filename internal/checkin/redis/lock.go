package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is the gate coordinator: a per-ticket mutual-exclusion token with a
// bounded lifetime. It serializes competing attempts on the same ticket while
// leaving unrelated tickets untouched. The lock is advisory — the store's
// compare-and-swap stays authoritative if the coordinator is bypassed or
// restarted.
type Redis struct {
	Client *redis.Client
	Logger *log.Logger

	ttl          time.Duration
	pollInterval time.Duration
}

// NewRedis creates a gate coordinator. ttl bounds how long a crashed holder
// can block a gate.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{
		Client:       client,
		Logger:       log.Default(),
		ttl:          ttl,
		pollInterval: 25 * time.Millisecond,
	}
}

// LockTicket acquires the per-ticket critical section, polling until the
// context deadline. Returns false with the context error once the deadline
// passes with the lock still held elsewhere.
func (r *Redis) LockTicket(ctx context.Context, ticketID, token string) (bool, error) {
	key := "gate_lock:" + ticketID

	for {
		ok, err := r.Client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

// UnlockTicket releases the lock only if this attempt still owns it, so a
// slow caller cannot free a lock that expired and was re-acquired elsewhere.
func (r *Redis) UnlockTicket(ctx context.Context, ticketID, token string) error {
	key := fmt.Sprintf("gate_lock:%s", ticketID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // lock expired or already released
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// IsLocked reports whether a gate lock currently exists for the ticket,
// without acquiring it.
func (r *Redis) IsLocked(ctx context.Context, ticketID string) (bool, error) {
	_, err := r.Client.Get(ctx, "gate_lock:"+ticketID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"buildingsense/backend/services/sensor-service/internal/models"
)

var (
	// ErrHeld means another writer owns the lease. It matches models.ErrRetryable.
	ErrHeld = fmt.Errorf("lease held by another writer: %w", models.ErrRetryable)
	// ErrLost means the lease expired or was taken over while we held it.
	ErrLost = errors.New("lease lost")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Client is the subset of go-redis used by Lease.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Lease is a single-writer lock with an owner token and a TTL.
type Lease struct {
	client Client
	key    string
	ttl    time.Duration
	token  string
}

// New returns a lease on key; the owner token is random per process.
func New(client Client, key string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

// Token identifies this owner.
func (l *Lease) Token() string { return l.token }

// Acquire takes the lease or fails with ErrHeld naming the current holder.
func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		return nil
	}
	holder, err := l.client.Get(ctx, l.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w (%s)", ErrHeld, l.key)
	}
	return fmt.Errorf("%w (%s held by %s)", ErrHeld, l.key, holder)
}

// Renew extends the TTL while we still own the lease.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// KeepAlive renews at a third of the TTL until ctx is done. It returns the first renewal error.
func (l *Lease) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Renew(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Release deletes the key only if we still own it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

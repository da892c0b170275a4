package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const coordinatorLeaseKey = "coordinator:lease"

// ErrLeaseLost is returned by Keep when another instance holds the lease or
// the lease could not be renewed before it expired.
var ErrLeaseLost = errors.New("coordinator lease lost")

var (
	renewLeaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLeaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// CoordinatorLease guarantees a single process owns the live bot sessions.
// The holder keeps a key with a TTL and renews it every ttl/3.
type CoordinatorLease struct {
	rdb        *goredis.Client
	instanceID string
	ttl        time.Duration
	clock      clockwork.Clock
}

func NewCoordinatorLease(rdb *goredis.Client, instanceID string, ttl time.Duration, clock clockwork.Clock) *CoordinatorLease {
	return &CoordinatorLease{rdb: rdb, instanceID: instanceID, ttl: ttl, clock: clock}
}

func (l *CoordinatorLease) interval() time.Duration {
	return l.ttl / 3
}

func (l *CoordinatorLease) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, coordinatorLeaseKey, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire coordinator lease: %w", err)
	}
	return ok, nil
}

// Acquire blocks until this instance holds the lease or ctx is done.
func (l *CoordinatorLease) Acquire(ctx context.Context) error {
	logged := false
	for {
		ok, err := l.tryAcquire(ctx)
		if err != nil {
			slog.WarnContext(ctx, "Coordinator lease attempt failed", "error", err)
		}
		if ok {
			slog.InfoContext(ctx, "Coordinator lease acquired", "instance_id", l.instanceID)
			return nil
		}
		if err == nil && !logged {
			holder, _ := l.Holder(ctx)
			slog.InfoContext(ctx, "Waiting for coordinator lease", "holder", holder)
			logged = true
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for coordinator lease: %w", ctx.Err())
		case <-l.clock.After(l.interval()):
		}
	}
}

// Keep renews the lease until ctx is done. Transient renewal errors are
// tolerated until the lease would have expired.
func (l *CoordinatorLease) Keep(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.interval())
	defer ticker.Stop()

	lastRenewed := l.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}

		held, err := l.renew(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			if l.clock.Since(lastRenewed) >= l.ttl {
				return fmt.Errorf("%w: %w", ErrLeaseLost, err)
			}
			slog.WarnContext(ctx, "Coordinator lease renewal failed", "error", err)
		case !held:
			return ErrLeaseLost
		default:
			lastRenewed = l.clock.Now()
		}
	}
}

func (l *CoordinatorLease) renew(ctx context.Context) (bool, error) {
	n, err := renewLeaseScript.Run(ctx, l.rdb, []string{coordinatorLeaseKey}, l.instanceID, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew coordinator lease: %w", err)
	}
	return n == 1, nil
}

// Release gives the lease up if this instance still holds it.
func (l *CoordinatorLease) Release(ctx context.Context) error {
	if err := releaseLeaseScript.Run(ctx, l.rdb, []string{coordinatorLeaseKey}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release coordinator lease: %w", err)
	}
	return nil
}

// Holder returns the instance ID holding the lease, or "" when free.
func (l *CoordinatorLease) Holder(ctx context.Context) (string, error) {
	id, err := l.rdb.Get(ctx, coordinatorLeaseKey).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read coordinator lease: %w", err)
	}
	return id, nil
}

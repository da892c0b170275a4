package redis

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorLease_SingleHolder(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	first := NewCoordinatorLease(client, "instance-a", 30*time.Second, clock)
	second := NewCoordinatorLease(client, "instance-b", 30*time.Second, clock)

	require.NoError(t, first.Acquire(ctx))

	ok, err := second.tryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	holder, err := second.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", holder)
}

func TestCoordinatorLease_WaitsForRelease(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	first := NewCoordinatorLease(client, "instance-a", 30*time.Second, clock)
	second := NewCoordinatorLease(client, "instance-b", 30*time.Second, clock)
	require.NoError(t, first.Acquire(ctx))

	acquired := make(chan error, 1)
	go func() { acquired <- second.Acquire(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	require.NoError(t, first.Release(ctx))
	clock.Advance(10 * time.Second)

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second instance did not acquire the released lease")
	}

	holder, err := first.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "instance-b", holder)
}

func TestCoordinatorLease_AcquireHonorsContext(t *testing.T) {
	client := setupTestClient(t)
	clock := clockwork.NewFakeClock()

	first := NewCoordinatorLease(client, "instance-a", 30*time.Second, clock)
	require.NoError(t, first.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewCoordinatorLease(client, "instance-b", 30*time.Second, clock).Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCoordinatorLease_ReleaseKeepsForeignLease(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	holder := NewCoordinatorLease(client, "instance-a", 30*time.Second, clock)
	require.NoError(t, holder.Acquire(ctx))

	require.NoError(t, NewCoordinatorLease(client, "instance-b", 30*time.Second, clock).Release(ctx))

	id, err := holder.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "instance-a", id)
}

func TestCoordinatorLease_KeepRenewsAndDetectsTakeover(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	lease := NewCoordinatorLease(client, "instance-a", 30*time.Second, clock)
	require.NoError(t, lease.Acquire(ctx))
	require.NoError(t, client.PExpire(ctx, coordinatorLeaseKey, 15*time.Second).Err())

	kept := make(chan error, 1)
	go func() { kept <- lease.Keep(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Second)

	assert.Eventually(t, func() bool {
		ttl, err := client.PTTL(ctx, coordinatorLeaseKey).Result()
		return err == nil && ttl > 20*time.Second
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, client.Set(ctx, coordinatorLeaseKey, "instance-b", 30*time.Second).Err())
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(10 * time.Second)

	select {
	case err := <-kept:
		require.ErrorIs(t, err, ErrLeaseLost)
	case <-time.After(5 * time.Second):
		t.Fatal("Keep did not report the takeover")
	}
}

func TestCoordinatorLease_KeepStopsWithContext(t *testing.T) {
	client := setupTestClient(t)
	clock := clockwork.NewFakeClock()

	lease := NewCoordinatorLease(client, "instance-a", 30*time.Second, clock)
	require.NoError(t, lease.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	kept := make(chan error, 1)
	go func() { kept <- lease.Keep(ctx) }()
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	select {
	case err := <-kept:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Keep did not stop")
	}
}

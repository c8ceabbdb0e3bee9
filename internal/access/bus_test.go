package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type eventSink struct {
	mu     sync.Mutex
	events []InvalidationEvent
}

func (s *eventSink) handle(event InvalidationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) snapshot() []InvalidationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InvalidationEvent(nil), s.events...)
}

func TestRedisBusDeliversToPeersOnly(t *testing.T) {
	client := newRedisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewRedisBus(client, "", nil)
	peer := NewRedisBus(client, "", nil)
	require.NotEqual(t, publisher.Origin(), peer.Origin())

	var own, remote eventSink
	require.NoError(t, publisher.Subscribe(ctx, own.handle))
	require.NoError(t, peer.Subscribe(ctx, remote.handle))

	require.NoError(t, client.Publish(ctx, DefaultInvalidationChannel, "{not json").Err())
	require.NoError(t, publisher.Publish(ctx, InvalidationEvent{RoleIDs: []int64{4}, UserIDs: []int64{8, 9}}))

	require.Eventually(t, func() bool { return len(remote.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	got := remote.snapshot()[0]
	assert.Equal(t, publisher.Origin(), got.Origin)
	assert.Equal(t, []int64{4}, got.RoleIDs)
	assert.Equal(t, []int64{8, 9}, got.UserIDs)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, own.snapshot())
}

func TestRedisBusSkipsEmptyEvents(t *testing.T) {
	client := newRedisClient(t)
	bus := NewRedisBus(client, "access.test", nil)

	require.NoError(t, bus.Publish(context.Background(), InvalidationEvent{}))
	require.NoError(t, (*RedisBus)(nil).Publish(context.Background(), InvalidationEvent{All: true}))
	require.Error(t, bus.Subscribe(context.Background(), nil))
}

func TestServicesShareInvalidationsOverRedis(t *testing.T) {
	client := newRedisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := instructorRepo()
	first, _ := newTestService(t, repo, NewRedisBus(client, "", nil))
	second, metrics := newTestService(t, repo, NewRedisBus(client, "", nil))
	require.NoError(t, first.Listen(ctx))
	require.NoError(t, second.Listen(ctx))

	require.True(t, first.Authorize(ctx, 1, "Course", "Create"))
	require.True(t, second.Authorize(ctx, 1, "Course", "Create"))

	repo.setActive(10, false)
	require.NoError(t, first.Invalidate(ctx, 1))

	require.Eventually(t, func() bool { return second.cache.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.False(t, second.Authorize(ctx, 1, "Course", "Create"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.invalidations.WithLabelValues("user", "remote")))

	assert.False(t, first.Authorize(ctx, 2, "Course", "Create"))
	require.Equal(t, 1, first.cache.Len())
	require.NoError(t, second.InvalidateAll(ctx))
	require.Eventually(t, func() bool { return first.cache.Len() == 0 }, time.Second, 10*time.Millisecond)
}

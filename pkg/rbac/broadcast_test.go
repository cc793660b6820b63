package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]Invalidation
}

func (r *batchRecorder) apply(batch []Invalidation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *batchRecorder) received() [][]Invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Invalidation(nil), r.batches...)
}

func TestRedisBroadcasterDeliversToOtherInstances(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := NewRedisBroadcaster(client, "", nil)
	receiver := NewRedisBroadcaster(client, "", nil)
	assert.NotEqual(t, sender.InstanceID(), receiver.InstanceID())

	senderGot := &batchRecorder{}
	receiverGot := &batchRecorder{}

	senderSub, err := sender.Subscribe(ctx, senderGot.apply)
	require.NoError(t, err)
	defer senderSub.Close()

	receiverSub, err := receiver.Subscribe(ctx, receiverGot.apply)
	require.NoError(t, err)
	defer receiverSub.Close()

	batch := []Invalidation{
		{Scope: ScopeTeam, UserID: "alice", ResourceID: "t1"},
		{Scope: ScopeProject, UserID: "alice"},
	}
	require.NoError(t, sender.Publish(ctx, batch))

	require.Eventually(t, func() bool { return len(receiverGot.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, batch, receiverGot.received()[0])

	// The sender already applied its batch locally.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, senderGot.received())
}

func TestRedisBroadcasterSkipsMalformedMessages(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	receiver := NewRedisBroadcaster(client, "test:invalidations", nil)
	got := &batchRecorder{}
	sub, err := receiver.Subscribe(ctx, got.apply)
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish("test:invalidations", "not json")
	mr.Publish("test:invalidations", `{"origin":"other","invalidations":[{"scope":"project","all":true}]}`)

	require.Eventually(t, func() bool { return len(got.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Invalidation{{Scope: ScopeProject, All: true}}, got.received()[0])
}

func TestRedisBroadcasterPublishEmptyBatch(t *testing.T) {
	_, client := setupTestRedis(t)
	b := NewRedisBroadcaster(client, "", nil)
	assert.NoError(t, b.Publish(context.Background(), nil))
}

func TestRedisBroadcasterPublishFailure(t *testing.T) {
	mr, client := setupTestRedis(t)
	b := NewRedisBroadcaster(client, "", nil)
	mr.Close()

	err := b.Publish(context.Background(), []Invalidation{{Scope: ScopeProject, All: true}})
	assert.Error(t, err)
}

func TestBroadcastInvalidatesOtherProcess(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two processes sharing one database.
	local := newFixture(t)
	remote := newFixture(t)
	for _, f := range []*fixture{local, remote} {
		seed(t, f)
	}

	localBroadcaster := NewRedisBroadcaster(client, "", nil)
	remoteBroadcaster := NewRedisBroadcaster(client, "", nil)
	local.invalidator.SetPublisher(localBroadcaster)

	sub, err := remoteBroadcaster.Subscribe(ctx, remote.invalidator.Apply)
	require.NoError(t, err)
	defer sub.Close()

	local.invalidator.ProjectDeleted(ctx, "p1")

	require.Eventually(t, func() bool {
		for _, e := range remote.projects.CacheStats().Entries {
			if e.Key == "alice:p1" {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, remote.projects.CacheStats().Size)
}

func TestSubscriptionStopsOnContextCancel(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := NewRedisBroadcaster(client, "", nil).Subscribe(ctx, func([]Invalidation) {})
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	sub.Close()
}

func TestRedisBroadcasterSurvivesPanickingApply(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := NewRedisBroadcaster(client, "", nil)
	receiver := NewRedisBroadcaster(client, "", nil)

	got := &batchRecorder{}
	first := true
	sub, err := receiver.Subscribe(ctx, func(batch []Invalidation) {
		if first {
			first = false
			panic("apply failed")
		}
		got.apply(batch)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sender.Publish(ctx, []Invalidation{{Scope: ScopeTeam, All: true}}))
	require.NoError(t, sender.Publish(ctx, []Invalidation{{Scope: ScopeProject, All: true}}))

	require.Eventually(t, func() bool { return len(got.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Invalidation{{Scope: ScopeProject, All: true}}, got.received()[0])
}

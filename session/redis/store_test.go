package redis

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/internal/testutil"
)

var (
	testRedisClient *redis.Client
	skipIntegration bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	client, cleanup, err := testutil.StartRedis(ctx)
	if err != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", err)
		skipIntegration = true
	}
	testRedisClient = client

	code := m.Run()
	cleanup()
	os.Exit(code)
}

var _ core.SessionStore = (*Store)(nil)

func newTestStore(t *testing.T, optFns ...func(o *Options)) *Store {
	t.Helper()
	if skipIntegration {
		t.Skip("redis integration tests require docker")
	}
	prefix := "test-" + core.NewID()
	return New(testRedisClient, append([]func(o *Options){func(o *Options) { o.Prefix = prefix }}, optFns...)...)
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var seen []core.Status
	store := newTestStore(t, func(o *Options) {
		o.OnTransition = func(_ string, _, to core.Status) {
			mu.Lock()
			seen = append(seen, to)
			mu.Unlock()
		}
	})

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, store.AppendInteraction(ctx, sess.ID, core.InteractionRef{Seq: 1, AgentName: "Issue Router"}))
	require.NoError(t, store.UpdateStatus(ctx, sess.ID, core.StatusCompleted))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Len(t, got.Interactions, 1)

	assert.ErrorIs(t, store.UpdateStatus(ctx, sess.ID, core.StatusFailed), core.ErrInvalidTransition)
	assert.Equal(t, []core.Status{core.StatusCompleted}, seen)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStore_ResumeAcrossInstances(t *testing.T) {
	ctx := context.Background()
	prefix := "test-" + core.NewID()

	first := newTestStore(t, func(o *Options) { o.Prefix = prefix })

	sess, err := first.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, first.SaveCheckpoint(ctx, sess.ID, core.Checkpoint{
		Mode:      core.ModeLoop,
		Request:   "cannot login",
		Iteration: 2,
	}))

	token, err := first.Pause(ctx, sess.ID)
	require.NoError(t, err)

	// A second store instance stands in for a restarted process.
	second := New(testRedisClient, func(o *Options) { o.Prefix = prefix })

	resumed, err := second.Resume(ctx, sess.ID, token)
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, resumed.Status)
	require.NotNil(t, resumed.Checkpoint)
	assert.Equal(t, 2, resumed.Checkpoint.Iteration)
}

func TestStore_ResumeExpired(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Now())

	store := newTestStore(t, func(o *Options) {
		o.Now = clock.Now
		o.PauseTimeout = time.Second
	})

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	token, err := store.Pause(ctx, sess.ID)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	_, err = store.Resume(ctx, sess.ID, token)
	assert.ErrorIs(t, err, core.ErrSessionExpired)

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sess, err := store.Create(ctx)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.AppendInteraction(ctx, sess.ID, core.InteractionRef{Seq: uint64(i + 1), AgentName: "support"}))
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Interactions, n)
}

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

var _ core.MemoryBank = (*Bank)(nil)

func newTestBank(t *testing.T, optFns ...func(o *Options)) *Bank {
	t.Helper()
	if skipIntegration {
		t.Skip("redis integration tests require docker")
	}
	prefix := "test-" + core.NewID()
	return New(testRedisClient, append([]func(o *Options){func(o *Options) { o.Prefix = prefix }}, optFns...)...)
}

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestBank_AppendRetrieve(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t, func(o *Options) { o.AutoCompact = false })

	for i, rec := range testutil.Records("s1", 4, start) {
		seq, err := bank.Append(ctx, "s1", rec)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}

	got, err := bank.RetrieveContext(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "out-4", got[0].Text())
	assert.Equal(t, uint64(4), got[0].Seq)
	assert.Equal(t, "s1", got[0].Record.SessionID)
	assert.True(t, got[0].Record.Timestamp.Equal(start.Add(3*time.Second)))
}

func TestBank_Compact(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t, func(o *Options) {
		o.Window = 3
		o.KeepRecent = 1
		o.AutoCompact = false
	})

	for _, rec := range testutil.Records("s1", 5, start) {
		_, err := bank.Append(ctx, "s1", rec)
		require.NoError(t, err)
	}

	changed, err := bank.Compact(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = bank.Compact(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, changed)

	entries, err := bank.RetrieveContext(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "out-5", entries[0].Text())
	require.True(t, entries[1].IsSummary())
	assert.Equal(t, 4, entries[1].Summary.MergedCount)

	st, err := bank.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalInteractions)
	assert.Equal(t, uint64(5), st.LastSeq)
}

func TestBank_ConcurrentAppendsAcrossClients(t *testing.T) {
	ctx := context.Background()
	prefix := "test-" + core.NewID()
	a := newTestBank(t, func(o *Options) { o.Prefix = prefix; o.Window = 10; o.KeepRecent = 2 })
	b := New(testRedisClient, func(o *Options) { o.Prefix = prefix; o.Window = 10; o.KeepRecent = 2 })

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bank := a
			if i%2 == 1 {
				bank = b
			}
			_, err := bank.Append(ctx, "s1", testutil.Record("s1", i, start))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, err := a.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, n, st.TotalInteractions)
	assert.Equal(t, uint64(n), st.LastSeq)
}

func TestBank_RawCounterDrivesAutoCompaction(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank(t, func(o *Options) {
		o.Window = 3
		o.KeepRecent = 1
	})

	for _, rec := range testutil.Records("s1", 5, start) {
		_, err := bank.Append(ctx, "s1", rec)
		require.NoError(t, err)
	}

	// the fourth append crossed the window and merged three entries
	entries, err := bank.RetrieveContext(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.True(t, entries[2].IsSummary())
	assert.Equal(t, 3, entries[2].Summary.MergedCount)

	st, err := bank.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.RawCount)
	assert.Equal(t, 5, st.TotalInteractions)

	raw, err := testRedisClient.Get(ctx, bank.rawKey("s1")).Int()
	require.NoError(t, err)
	assert.Equal(t, st.RawCount, raw)
}

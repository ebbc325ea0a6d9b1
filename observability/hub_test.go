package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
)

func TestHub_QueryTraceOrdered(t *testing.T) {
	hub := NewHub()

	hub.RecordEvent("s1", core.EventRequestStart, map[string]any{"mode": "PARALLEL"})
	hub.RecordEvent("s2", core.EventRequestStart, nil)
	hub.RecordEvent("s1", core.EventAgentEnd, map[string]any{"agent": "Issue Router", core.PayloadLatency: 5 * time.Millisecond})
	hub.RecordEvent("s1", core.EventRequestEnd, nil)

	trace := hub.QueryTrace("s1")
	require.Len(t, trace, 3)
	for i, ev := range trace {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "s1", ev.SessionID)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, core.EventRequestStart, trace[0].Kind)
	assert.Equal(t, core.EventRequestEnd, trace[2].Kind)

	assert.Empty(t, hub.QueryTrace("unknown"))
}

func TestHub_PayloadIsCopied(t *testing.T) {
	hub := NewHub()
	payload := map[string]any{"k": "v"}
	hub.RecordEvent("s1", "custom", payload)
	payload["k"] = "changed"

	assert.Equal(t, "v", hub.QueryTrace("s1")[0].Payload["k"])
}

func TestHub_MaxEventsPerSession(t *testing.T) {
	hub := NewHub(func(o *Options) { o.MaxEventsPerSession = 3 })

	for i := 0; i < 5; i++ {
		hub.RecordEvent("s1", "tick", map[string]any{"i": i})
	}

	trace := hub.QueryTrace("s1")
	require.Len(t, trace, 3)
	assert.Equal(t, uint64(3), trace[0].Seq)
	assert.Equal(t, uint64(5), trace[2].Seq)

	snap := hub.MetricsSnapshot()
	assert.Equal(t, 5, snap.TotalEvents)
	assert.Equal(t, 2, snap.DroppedEvents)
}

func TestHub_MaxSessionsEvictsOldestTrace(t *testing.T) {
	hub := NewHub(func(o *Options) { o.MaxSessions = 2 })

	hub.RecordEvent("s1", "tick", nil)
	hub.RecordEvent("s2", "tick", nil)
	hub.RecordEvent("s1", "tick", nil)
	hub.RecordEvent("s3", "tick", nil)

	assert.Empty(t, hub.QueryTrace("s1"))
	assert.Len(t, hub.QueryTrace("s2"), 1)
	assert.Len(t, hub.QueryTrace("s3"), 1)

	snap := hub.MetricsSnapshot()
	assert.Equal(t, 2, snap.Sessions)
	assert.Equal(t, 1, snap.Evicted)
	assert.Equal(t, 4, snap.TotalEvents)
}

func TestHub_MetricsSnapshot(t *testing.T) {
	hub := NewHub()

	for i := 1; i <= 100; i++ {
		hub.RecordEvent("s1", core.EventToolCall, map[string]any{
			"tool":              "search_knowledge_base",
			core.PayloadLatency: time.Duration(i) * time.Millisecond,
		})
	}
	hub.RecordEvent("s1", core.EventToolCall, map[string]any{"tool": "create_ticket", core.PayloadError: "boom"})

	snap := hub.MetricsSnapshot()
	assert.Equal(t, 101, snap.Counts[core.EventToolCall])
	assert.Equal(t, 1, snap.Errors[core.EventToolCall])
	assert.InDelta(t, 1.0/101.0, snap.ErrorRate(core.EventToolCall), 1e-9)
	assert.Equal(t, 1, snap.Sessions)

	lat := snap.Latency[core.EventToolCall]
	assert.Equal(t, 100, lat.Count)
	assert.Equal(t, time.Millisecond, lat.Min)
	assert.Equal(t, 100*time.Millisecond, lat.Max)
	assert.Equal(t, 50500*time.Microsecond, lat.Mean)
	assert.Equal(t, 50*time.Millisecond, lat.P50)
	assert.Equal(t, 95*time.Millisecond, lat.P95)
	assert.Equal(t, 99*time.Millisecond, lat.P99)

	perTool := snap.Latency[core.EventToolCall+"/search_knowledge_base"]
	assert.Equal(t, 100, perTool.Count)
}

func TestHub_SinkPanicIsSwallowed(t *testing.T) {
	var got []core.Event
	hub := NewHub(func(o *Options) {
		o.Sinks = []Sink{
			SinkFunc(func(core.Event) { panic("sink down") }),
			SinkFunc(func(ev core.Event) { got = append(got, ev) }),
		}
	})

	assert.NotPanics(t, func() { hub.RecordEvent("s1", "x", nil) })
	assert.Len(t, got, 1)
	assert.Equal(t, 1, hub.MetricsSnapshot().SinkFailures)
	assert.Len(t, hub.QueryTrace("s1"), 1)
}

func TestHub_ConcurrentRecording(t *testing.T) {
	hub := NewHub()

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				hub.RecordEvent("s1", "tick", map[string]any{core.PayloadLatency: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	trace := hub.QueryTrace("s1")
	require.Len(t, trace, workers*perWorker)
	for i := 1; i < len(trace); i++ {
		assert.Equal(t, trace[i-1].Seq+1, trace[i].Seq)
	}
	assert.Equal(t, workers*perWorker, hub.MetricsSnapshot().Latency["tick"].Count)
}

func TestSeriesRingKeepsExactAggregates(t *testing.T) {
	s := newSeries(4)
	for i := 1; i <= 10; i++ {
		s.add(time.Duration(i) * time.Second)
	}
	st := s.stats()
	assert.Equal(t, 10, st.Count)
	assert.Equal(t, time.Second, st.Min)
	assert.Equal(t, 10*time.Second, st.Max)
	// percentiles only see the retained window 7..10
	assert.Equal(t, 8*time.Second, st.P50)
}

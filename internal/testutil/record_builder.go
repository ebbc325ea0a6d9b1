package testutil

import (
	"fmt"
	"time"

	"github.com/hupe1980/supportmesh/core"
)

// Records returns n interaction records for sessionID, one second apart
// starting at start, with outputs "out-1" .. "out-n".
func Records(sessionID string, n int, start time.Time) []core.InteractionRecord {
	recs := make([]core.InteractionRecord, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, Record(sessionID, i, start.Add(time.Duration(i-1)*time.Second)))
	}
	return recs
}

// Record returns a single support interaction numbered i.
func Record(sessionID string, i int, at time.Time) core.InteractionRecord {
	return core.InteractionRecord{
		SessionID: sessionID,
		AgentName: "Technical Support",
		Input:     fmt.Sprintf("in-%d", i),
		Output:    fmt.Sprintf("out-%d", i),
		Timestamp: at,
		Latency:   10 * time.Millisecond,
	}
}

package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/supportmesh/core"
)

// DigestSummarizer produces a deterministic digest: how many interactions
// were merged, the time span they cover and the last Recent outputs joined
// by " | ".
type DigestSummarizer struct {
	// Recent is the number of trailing outputs quoted (default 3).
	Recent int
	// MaxOutputLen truncates each quoted output to that many characters;
	// zero keeps them whole.
	MaxOutputLen int
}

// Summarize implements core.Summarizer.
func (d DigestSummarizer) Summarize(_ context.Context, records []core.InteractionRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	recent := d.Recent
	if recent <= 0 {
		recent = 3
	}
	if recent > len(records) {
		recent = len(records)
	}

	outputs := make([]string, 0, recent)
	for _, r := range records[len(records)-recent:] {
		outputs = append(outputs, truncate(strings.TrimSpace(r.Output), d.MaxOutputLen))
	}

	first := records[0].Timestamp.UTC().Format(time.RFC3339)
	last := records[len(records)-1].Timestamp.UTC().Format(time.RFC3339)

	return fmt.Sprintf("%d interactions from %s to %s: %s",
		len(records), first, last, strings.Join(outputs, " | ")), nil
}

// truncate cuts s after n runes. Non-positive n keeps s whole.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

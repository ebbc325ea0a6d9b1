package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("parallel")
	assert.NoError(t, err)
	assert.Equal(t, ModeParallel, m)

	m, err = ParseMode(" Loop ")
	assert.NoError(t, err)
	assert.Equal(t, ModeLoop, m)

	_, err = ParseMode("fanout")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRequest_Validate(t *testing.T) {
	assert.NoError(t, Request{Text: "help"}.Validate())
	assert.ErrorIs(t, Request{Text: "   "}.Validate(), ErrValidation)
	assert.ErrorIs(t, Request{Text: "x", MaxTurns: -1}.Validate(), ErrValidation)
	assert.ErrorIs(t, Request{Text: "x", Mode: "bogus"}.Validate(), ErrValidation)
}

func TestMemoryEntry_Count(t *testing.T) {
	raw := MemoryEntry{Seq: 1, Record: &InteractionRecord{Output: "hi"}}
	sum := MemoryEntry{Seq: 5, Summary: &CompactedSummary{MergedCount: 4, SummaryText: "digest"}}

	assert.Equal(t, 1, raw.Count())
	assert.Equal(t, 4, sum.Count())
	assert.Equal(t, "hi", raw.Text())
	assert.Equal(t, "digest", sum.Text())
	assert.True(t, sum.IsSummary())
}

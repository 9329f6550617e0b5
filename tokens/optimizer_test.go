package tokens

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaberry835/agentmesh/core"
)

func makeHistory(n int) []core.ChatMessage {
	msgs := []core.ChatMessage{{Role: "system", Content: "You are the coordinator."}}
	for i := 0; i < n; i++ {
		msgs = append(msgs, core.ChatMessage{
			Role:    "assistant",
			Content: fmt.Sprintf("Step %d: intermediate reasoning about the request goes here.", i),
		})
	}
	return msgs
}

func TestFitNoopUnderBudget(t *testing.T) {
	o := NewOptimizer(nil)
	msgs := makeHistory(3)
	out, changed := o.Fit(msgs, 100000)
	assert.False(t, changed)
	assert.Equal(t, msgs, out)
}

func TestFitKeepsSystemAndRecent(t *testing.T) {
	o := NewOptimizer(nil)
	msgs := makeHistory(30)
	budget := EstimateMessages(msgs) / 2

	out, changed := o.Fit(msgs, budget)
	require.True(t, changed)
	assert.Equal(t, "system", out[0].Role, "system message survives optimization")

	// The most recent messages must survive.
	last := msgs[len(msgs)-1].Content
	assert.Equal(t, last, out[len(out)-1].Content)
	assert.Less(t, len(out), len(msgs))
}

func TestFitPreservesOrder(t *testing.T) {
	o := NewOptimizer(nil)
	msgs := makeHistory(30)
	out, _ := o.Fit(msgs, EstimateMessages(msgs)/2)

	positions := make(map[string]int)
	for i, m := range msgs {
		positions[m.Content] = i
	}
	prev := -1
	for _, m := range out {
		pos := positions[m.Content]
		assert.Greater(t, pos, prev, "retained messages must keep their relative order")
		prev = pos
	}
}

func TestFitSummarizesOversizedMessages(t *testing.T) {
	o := NewOptimizer(nil)

	var b strings.Builder
	b.WriteString("The investigation began with a broad sweep. ")
	for i := 0; i < 400; i++ {
		b.WriteString(fmt.Sprintf("Filler sentence number %d with no interesting content at all. ", i))
	}
	b.WriteString("The analysis of the data found three anomalies. ")
	b.WriteString("Everything concluded without incident.")

	msgs := []core.ChatMessage{
		{Role: "system", Content: "coordinator"},
		{Role: "assistant", Content: b.String()},
		{Role: "user", Content: "ok"},
	}

	budget := EstimateMessages(msgs) * 2 / 3
	out, changed := o.Fit(msgs, budget)
	require.True(t, changed)

	var summarized string
	for _, m := range out {
		if m.Role == "assistant" {
			summarized = m.Content
		}
	}
	require.NotEmpty(t, summarized)
	assert.Contains(t, summarized, "The investigation began", "first sentence kept")
	assert.Contains(t, summarized, "analysis of the data found", "keyword sentences kept")
	assert.Less(t, len(summarized), b.Len())
}

func TestFitFallbackKeepsSystemPlusLastTwo(t *testing.T) {
	o := NewOptimizer(nil)
	msgs := makeHistory(20)
	out, changed := o.Fit(msgs, 1)

	require.True(t, changed)
	require.Len(t, out, 3)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, msgs[len(msgs)-2].Content, out[1].Content)
	assert.Equal(t, msgs[len(msgs)-1].Content, out[2].Content)
}

func TestFitTruncatesLongContents(t *testing.T) {
	o := NewOptimizer(nil)
	long := strings.Repeat("x", 3000)
	msgs := []core.ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "tool", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: "done?"},
	}

	// Budget low enough to force truncation but high enough to avoid
	// the minimal fallback.
	budget := 600
	out, changed := o.Fit(msgs, budget)
	require.True(t, changed)
	for _, m := range out {
		if m.Role != "system" && len(m.Content) > 520 {
			t.Fatalf("message not truncated: %d chars", len(m.Content))
		}
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First. Second! Third? Trailing fragment")
	require.Len(t, sentences, 4)
	assert.Equal(t, "First.", sentences[0])
	assert.Equal(t, "Trailing fragment", sentences[3])
}

package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/jaberry835/agentmesh/core"
)

func TestEstimateTextEmpty(t *testing.T) {
	assert.Equal(t, 0, EstimateText(""))
}

func TestEstimateTextClasses(t *testing.T) {
	// 8 letters: ceil(1.1 * 8/4) = ceil(2.2) = 3
	assert.Equal(t, 3, EstimateText("abcdefgh"))
	// 5 digits: ceil(1.1 * 5/2.5) = ceil(2.2) = 3
	assert.Equal(t, 3, EstimateText("12345"))
	// 4 spaces: ceil(1.1 * 4) = ceil(4.4) = 5
	assert.Equal(t, 5, EstimateText("    "))
	// 6 symbols: ceil(1.1 * 6/3) = ceil(2.2) = 3
	assert.Equal(t, 3, EstimateText("!@#$%^"))
}

func TestEstimateTextGrowsWithLength(t *testing.T) {
	short := EstimateText("hello world")
	long := EstimateText(strings.Repeat("hello world ", 100))
	assert.Greater(t, long, short*50)
}

func TestEstimateMessageIncludesOverhead(t *testing.T) {
	msg := core.ChatMessage{Role: "user", Content: "hi"}
	content := EstimateText("user") + EstimateText("hi")
	assert.Equal(t, content+10, EstimateMessage(msg))
}

func TestEstimateMessagesAddsListOverhead(t *testing.T) {
	msgs := []core.ChatMessage{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "What is the capital of France?"},
	}
	expected := EstimateMessage(msgs[0]) + EstimateMessage(msgs[1]) + 2*3
	assert.Equal(t, expected, EstimateMessages(msgs))
}

func TestClipBytesKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("日本語", 10) // 3 bytes per rune

	for limit := 0; limit <= len(text)+2; limit++ {
		out := ClipBytes(text, limit)
		assert.LessOrEqual(t, len(out), limit)
		assert.True(t, utf8.ValidString(out), "limit %d splits a rune", limit)
	}

	assert.Equal(t, "abc", ClipBytes("abc", 10), "short text passes through")
	assert.Equal(t, "ab", ClipBytes("abc", 2))
}

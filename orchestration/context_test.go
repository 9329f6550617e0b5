package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppendOnlyOrder(t *testing.T) {
	h := NewHistory()
	h.Append("user", "", "first")
	h.Append("assistant", coordinatorName, "second")
	h.Append("tool", "ADXAgent", "third")

	require.Equal(t, 3, h.Len())
	msgs := h.Messages()
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[2].Content)
	assert.False(t, msgs[0].Timestamp.After(msgs[2].Timestamp))

	// Mutating the copy never touches the history.
	msgs[0].Content = "mutated"
	assert.Equal(t, "first", h.Messages()[0].Content)
}

func TestHistoryLookups(t *testing.T) {
	h := NewHistory()
	assert.Equal(t, Message{}, h.Last())

	h.Append("user", "", "question")
	h.Append("assistant", coordinatorName, "answer")

	assert.Equal(t, "answer", h.Last().Content)
	msg, ok := h.LastByRole("user")
	require.True(t, ok)
	assert.Equal(t, "question", msg.Content)
	_, ok = h.LastByRole("tool")
	assert.False(t, ok)
	assert.Equal(t, 1, h.CountByRole("assistant"))
}

func TestRequestContextHeaders(t *testing.T) {
	rctx := RequestContext{
		UserID:        "u-1",
		SessionID:     "s-1",
		Authorization: "Bearer t",
		Delegated:     map[string]string{"X-Adx-Token": "d"},
	}
	headers := rctx.Headers()
	assert.Equal(t, "u-1", headers.UserID)
	assert.Equal(t, "s-1", headers.SessionID)
	assert.Equal(t, "Bearer t", headers.Authorization)
	assert.Equal(t, "d", headers.Delegated["X-Adx-Token"])
}

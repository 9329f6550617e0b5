package orchestration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaberry835/agentmesh/a2a"
	"github.com/jaberry835/agentmesh/core"
	"github.com/jaberry835/agentmesh/resilience"
	"github.com/jaberry835/agentmesh/tokens"
)

// capturingAI records the exact message list the model receives.
type capturingAI struct {
	messages []core.ChatMessage
}

func (c *capturingAI) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	c.messages = []core.ChatMessage{{Role: "user", Content: prompt}}
	return &core.AIResponse{Content: "ok"}, nil
}

func (c *capturingAI) ChatWithTools(ctx context.Context, messages []core.ChatMessage, tools []core.ToolSchema, options *core.AIOptions) (*core.AIResponse, error) {
	c.messages = messages
	return &core.AIResponse{Content: "ok"}, nil
}

func longHistory(n int) []core.ChatMessage {
	msgs := []core.ChatMessage{{Role: "system", Content: "You route requests."}}
	for i := 0; i < n; i++ {
		msgs = append(msgs, core.ChatMessage{Role: "user", Content: strings.Repeat("a", 200)})
	}
	return msgs
}

func TestModelCallerBudgetTrimsHistory(t *testing.T) {
	ai := &capturingAI{}
	model := NewModelCaller(ai, fastExecutor(), nil)
	monitor := tokens.NewMonitor()
	model.SetContextBudget(400, monitor)

	history := longHistory(20)
	_, err := model.Chat(context.Background(), history, nil, nil)
	require.NoError(t, err)

	require.NotEmpty(t, ai.messages)
	assert.Less(t, len(ai.messages), len(history), "history is trimmed to the budget")
	assert.Equal(t, "system", ai.messages[0].Role, "system messages survive trimming")
	assert.Equal(t, history[len(history)-1].Content, ai.messages[len(ai.messages)-1].Content,
		"the newest message survives trimming")
	assert.LessOrEqual(t, tokens.EstimateMessages(ai.messages), 400)

	recent := monitor.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "history_optimize", recent[0].ContextLabel)
	assert.True(t, recent[0].Truncated)
}

func TestModelCallerNoBudgetPassesHistoryThrough(t *testing.T) {
	ai := &capturingAI{}
	model := NewModelCaller(ai, fastExecutor(), nil)

	history := longHistory(20)
	_, err := model.Chat(context.Background(), history, nil, nil)
	require.NoError(t, err)
	assert.Len(t, ai.messages, len(history))
}

func TestTruncateToCeiling(t *testing.T) {
	long := strings.Repeat("a", 1000)
	out := truncateToCeiling(long, 50)
	assert.True(t, strings.HasSuffix(out, "[truncated]"))
	assert.LessOrEqual(t, tokens.EstimateText(out), 50)

	short := "small task"
	assert.Equal(t, short, truncateToCeiling(short, 50))
}

func TestTruncateToCeilingMultiByte(t *testing.T) {
	long := strings.Repeat("日", 500) // 3 bytes per rune
	out := truncateToCeiling(long, 50)
	assert.True(t, utf8.ValidString(out), "the cut must not split a rune")
	assert.True(t, strings.HasSuffix(out, "[truncated]"))
	assert.LessOrEqual(t, tokens.EstimateText(out), 50)
}

func TestAgentCallerAppliesTaskCeiling(t *testing.T) {
	received := make(chan string, 1)
	handler := func(ctx context.Context, task, threadID string, headers a2a.ForwardHeaders) (string, error) {
		received <- task
		return "done", nil
	}
	card := &a2a.AgentCard{Name: "EchoAgent", Description: "echoes"}
	mux := http.NewServeMux()
	a2a.NewServer(card, handler, nil).Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()
	card.Endpoints.JSONRPC = ts.URL + "/"

	registry := NewRegistry(nil)
	registry.Rebuild([]*a2a.AgentCard{card})

	group := resilience.NewGroup(resilience.ExecutorConfig{
		Rate: &resilience.RateTrackerConfig{
			MaxConcurrent:     8,
			RequestsPerMinute: 100000,
			TokensPerMinute:   100000000,
		},
		Retry: &resilience.RetryConfig{
			MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1,
		},
	})

	monitor := tokens.NewMonitor()
	caller := NewResilientAgentCaller(registry, a2a.NewClientCache(nil), group, nil)
	caller.SetTaskCeiling(50, monitor)

	_, err := caller.Call(context.Background(), "EchoAgent", strings.Repeat("a", 1000), RequestContext{})
	require.NoError(t, err)

	task := <-received
	assert.True(t, strings.HasSuffix(task, "[truncated]"))
	assert.LessOrEqual(t, tokens.EstimateText(task), 50)

	recent := monitor.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "agent:EchoAgent", recent[0].ContextLabel)
	assert.True(t, recent[0].Truncated)
}

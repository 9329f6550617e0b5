package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaberry835/agentmesh/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(&Config{
		Endpoint:   srv.URL,
		APIKey:     "test-key",
		Deployment: "gpt-test",
	})
	require.NoError(t, err)
	return client
}

func completionBody(content string) string {
	return `{"choices":[{"message":{"content":"` + content + `"},"finish_reason":"stop"}],` +
		`"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)

	_, err = NewClient(&Config{APIKey: "k"})
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)

	_, err = NewClient(&Config{Endpoint: "http://x"})
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
}

func TestCompletionsURLAzure(t *testing.T) {
	url := completionsURL(&Config{
		Endpoint:   "https://myres.openai.azure.com/",
		Deployment: "gpt-4o",
		APIVersion: "2024-06-01",
	})
	assert.Equal(t, "https://myres.openai.azure.com/openai/deployments/gpt-4o/chat/completions?api-version=2024-06-01", url)

	url = completionsURL(&Config{Endpoint: "https://api.openai.com/v1"})
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", url)
}

func TestGenerateResponse(t *testing.T) {
	var gotKey string
	var gotBody chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(completionBody("Paris.")))
	})

	resp, err := client.GenerateResponse(context.Background(), "Capital of France?", &core.AIOptions{
		SystemPrompt: "Answer briefly.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", resp.Content)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "user", gotBody.Messages[1].Role)
}

func TestChatWithToolsReturnsToolCall(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Tools, 1)
		assert.Equal(t, "delegate", body.Tools[0].Function.Name)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[` +
			`{"function":{"name":"delegate","arguments":"{\"agent\":\"ADXAgent\",\"task\":\"list\"}"}}]},` +
			`"finish_reason":"tool_calls"}],"usage":{"total_tokens":30}}`))
	})

	tools := []core.ToolSchema{{Name: "delegate", Description: "d", Parameters: map[string]interface{}{"type": "object"}}}
	resp, err := client.ChatWithTools(context.Background(),
		[]core.ChatMessage{{Role: "user", Content: "go"}}, tools, nil)

	require.NoError(t, err)
	require.NotNil(t, resp.ToolCall)
	assert.Equal(t, "delegate", resp.ToolCall.Name)
	assert.Equal(t, "ADXAgent", resp.ToolCall.Arguments["agent"])
	assert.Equal(t, "list", resp.ToolCall.Arguments["task"])
	assert.Empty(t, resp.Content)
}

func TestChatWithToolsHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"rate_limit"}}`))
	})

	_, err := client.ChatWithTools(context.Background(),
		[]core.ChatMessage{{Role: "user", Content: "go"}}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRequestFailed)
	assert.True(t, core.IsRetryable(err), "429 with rate-limit text should be retryable")
}

func TestChatWithToolsEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := client.ChatWithTools(context.Background(),
		[]core.ChatMessage{{Role: "user", Content: "go"}}, nil, nil)
	assert.ErrorIs(t, err, core.ErrParseFailed)
}

func TestChatWithToolsCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ChatWithTools(ctx,
		[]core.ChatMessage{{Role: "user", Content: "go"}}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

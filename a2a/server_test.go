package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler TaskHandler) (*httptest.Server, *AgentCard) {
	t.Helper()
	card := &AgentCard{
		Name:        "docs",
		Description: "Document search specialist",
	}
	srv := NewServer(card, handler, nil)
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	card.Endpoints.JSONRPC = ts.URL + "/"
	return ts, card
}

func echoHandler(ctx context.Context, task, threadID string, headers ForwardHeaders) (string, error) {
	return "echo: " + task, nil
}

func TestServerWellKnownCard(t *testing.T) {
	ts, _ := newTestServer(t, echoHandler)

	resp, err := http.Get(ts.URL + WellKnownPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card AgentCard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))
	assert.Equal(t, "docs", card.Name)
	assert.Equal(t, Protocol, card.Protocol)
}

func TestServerRoundTripWithClient(t *testing.T) {
	_, card := newTestServer(t, echoHandler)

	client := NewClient(nil)
	content, err := client.SendMessage(context.Background(), card, "find the report", ForwardHeaders{})
	require.NoError(t, err)
	assert.Equal(t, "echo: find the report", content)
}

func TestServerStreamRoundTrip(t *testing.T) {
	_, card := newTestServer(t, echoHandler)

	var chunks []string
	client := NewClient(nil)
	content, err := client.StreamMessage(context.Background(), card, "stream it", ForwardHeaders{}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: stream it", content)
	assert.Equal(t, []string{"echo: stream it"}, chunks)
}

func TestServerForwardsHeadersToHandler(t *testing.T) {
	var got ForwardHeaders
	_, card := newTestServer(t, func(ctx context.Context, task, threadID string, headers ForwardHeaders) (string, error) {
		got = headers
		return "ok", nil
	})

	client := NewClient(nil)
	_, err := client.SendMessage(context.Background(), card, "task", ForwardHeaders{
		UserID:        "u-1",
		SessionID:     "s-1",
		Authorization: "Bearer t",
		Delegated:     map[string]string{"X-Adx-Token": "d-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "Bearer t", got.Authorization)
	assert.Equal(t, "d-1", got.Delegated["X-Adx-Token"])

	// Identity headers are not delegated credentials; they must never
	// make DelegatedToken non-empty and split the client cache per user.
	require.Len(t, got.Delegated, 1)
	_, hasUser := got.Delegated["X-User-Id"]
	assert.False(t, hasUser)
	_, hasSession := got.Delegated["X-Session-Id"]
	assert.False(t, hasSession)
}

func TestServerHandlerError(t *testing.T) {
	_, card := newTestServer(t, func(ctx context.Context, task, threadID string, headers ForwardHeaders) (string, error) {
		return "", errors.New("backend unavailable")
	})

	client := NewClient(nil)
	_, err := client.SendMessage(context.Background(), card, "task", ForwardHeaders{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
}

func TestServerRejectsMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t, echoHandler)

	resp, err := http.Post(ts.URL+"/", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, CodeParseError, envelope.Error.Code)
}

func TestServerRejectsUnknownMethod(t *testing.T) {
	ts, _ := newTestServer(t, echoHandler)

	body := `{"jsonrpc":"2.0","id":"1","method":"message/unknown","params":{"task":"x"}}`
	resp, err := http.Post(ts.URL+"/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, CodeMethodNotFound, envelope.Error.Code)
}

func TestServerRejectsGetOnRPCEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, echoHandler)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

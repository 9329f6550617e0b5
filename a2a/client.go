package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jaberry835/agentmesh/core"
)

// ClientConfig configures the JSON-RPC client.
type ClientConfig struct {
	// CallTimeout bounds unary message/send calls.
	CallTimeout time.Duration
	// StreamTimeout bounds the whole lifetime of a message/stream call.
	StreamTimeout time.Duration
	Logger        core.Logger
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		CallTimeout:   30 * time.Second,
		StreamTimeout: 60 * time.Second,
		Logger:        &core.NoOpLogger{},
	}
}

// Client talks JSON-RPC 2.0 to specialist agents. One shared client
// serves all plain requests; delegated-credential requests go through
// the client cache.
type Client struct {
	http   *http.Client
	stream *http.Client
	logger core.Logger
}

// NewClient creates an a2a client with instrumented transports.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	transport := otelhttp.NewTransport(http.DefaultTransport)
	return &Client{
		http:   &http.Client{Timeout: config.CallTimeout, Transport: transport},
		stream: &http.Client{Timeout: config.StreamTimeout, Transport: transport},
		logger: config.Logger,
	}
}

// SendMessage performs one unary message/send call and returns the
// result content. An HTTP non-2xx raises a transport error; a JSON-RPC
// error body raises a *ResponseError wrapped as a tool failure.
func (c *Client) SendMessage(ctx context.Context, card *AgentCard, task string, headers ForwardHeaders) (string, error) {
	id := uuid.NewString()
	body, err := newRequest(id, MethodMessageSend, task, headers.SessionID)
	if err != nil {
		return "", err
	}

	c.logger.Debug("Sending task to specialist", map[string]interface{}{
		"operation":  "a2a_send",
		"agent":      card.Name,
		"request_id": id,
		"task_chars": len(task),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, card.Endpoints.JSONRPC, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	applyHeaders(req, headers)

	resp, err := c.http.Do(req)
	if err != nil {
		if core.IsCancellation(err) || ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &core.OrchestrationError{
			Op: "a2a.SendMessage", Kind: "transport", Agent: card.Name,
			Err: fmt.Errorf("%w: %v", core.ErrConnectionFailed, err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &core.OrchestrationError{
			Op: "a2a.SendMessage", Kind: "transport", Agent: card.Name,
			Err: fmt.Errorf("%w: HTTP %d", core.ErrRequestFailed, resp.StatusCode),
		}
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", &core.OrchestrationError{
			Op: "a2a.SendMessage", Kind: "transport", Agent: card.Name,
			Err: fmt.Errorf("%w: %v", core.ErrParseFailed, err),
		}
	}
	if envelope.Error != nil {
		return "", &core.OrchestrationError{
			Op: "a2a.SendMessage", Kind: "tool", Agent: card.Name,
			Err: fmt.Errorf("%w: %v", core.ErrToolFailed, envelope.Error),
		}
	}
	if envelope.Result == nil {
		return "", &core.OrchestrationError{
			Op: "a2a.SendMessage", Kind: "transport", Agent: card.Name,
			Err: fmt.Errorf("%w: missing result", core.ErrParseFailed),
		}
	}
	return envelope.Result.Content, nil
}

// StreamMessage performs a message/stream call. onChunk receives each
// stream/content fragment; the final assembled content is returned. A
// server without streaming support degrades to a single chunk.
func (c *Client) StreamMessage(ctx context.Context, card *AgentCard, task string, headers ForwardHeaders, onChunk func(string)) (string, error) {
	id := uuid.NewString()
	body, err := newRequest(id, MethodMessageStream, task, headers.SessionID)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, card.Endpoints.JSONRPC, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	applyHeaders(req, headers)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &core.OrchestrationError{
			Op: "a2a.StreamMessage", Kind: "transport", Agent: card.Name,
			Err: fmt.Errorf("%w: %v", core.ErrConnectionFailed, err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &core.OrchestrationError{
			Op: "a2a.StreamMessage", Kind: "transport", Agent: card.Name,
			Err: fmt.Errorf("%w: HTTP %d", core.ErrRequestFailed, resp.StatusCode),
		}
	}

	var assembled strings.Builder
	var final *Response

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case EventStreamContent:
				var chunk struct {
					Content string `json:"content"`
				}
				if err := json.Unmarshal([]byte(data), &chunk); err == nil {
					assembled.WriteString(chunk.Content)
					if onChunk != nil {
						onChunk(chunk.Content)
					}
				}
			case EventStreamEnd:
				var envelope Response
				if err := json.Unmarshal([]byte(data), &envelope); err == nil {
					final = &envelope
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &core.OrchestrationError{
			Op: "a2a.StreamMessage", Kind: "transport", Agent: card.Name,
			Err: fmt.Errorf("%w: %v", core.ErrConnectionFailed, err),
		}
	}

	if final != nil {
		if final.Error != nil {
			return "", &core.OrchestrationError{
				Op: "a2a.StreamMessage", Kind: "tool", Agent: card.Name,
				Err: fmt.Errorf("%w: %v", core.ErrToolFailed, final.Error),
			}
		}
		if final.Result != nil && final.Result.Content != "" {
			return final.Result.Content, nil
		}
	}
	return assembled.String(), nil
}

// applyHeaders forwards caller identity, authorization, and delegated
// credentials verbatim.
func applyHeaders(req *http.Request, headers ForwardHeaders) {
	req.Header.Set("Content-Type", "application/json")
	if headers.UserID != "" {
		req.Header.Set(HeaderUserID, headers.UserID)
	}
	if headers.SessionID != "" {
		req.Header.Set(HeaderSessionID, headers.SessionID)
	}
	if headers.Authorization != "" {
		req.Header.Set(HeaderAuth, headers.Authorization)
	}
	for name, value := range headers.Delegated {
		req.Header.Set(name, value)
	}
}

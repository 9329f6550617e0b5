// Package ai implements core.AIClient against OpenAI-compatible
// chat-completions endpoints, including Azure-style deployments that
// route by deployment name and api-version query parameter.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jaberry835/agentmesh/core"
)

// Config configures the model client.
type Config struct {
	// Endpoint is the provider base URL. An Azure endpoint looks like
	// https://<resource>.openai.azure.com; anything else is treated as
	// an OpenAI-compatible base serving /chat/completions.
	Endpoint string
	APIKey   string
	// Deployment is the Azure deployment (or OpenAI model) name.
	Deployment string
	// APIVersion is appended as api-version for Azure endpoints.
	APIVersion  string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Logger      core.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		APIVersion:  "2024-06-01",
		Temperature: 0.2,
		MaxTokens:   4096,
		Timeout:     120 * time.Second,
		Logger:      &core.NoOpLogger{},
	}
}

// Client talks to one chat-completions deployment.
type Client struct {
	config *Config
	http   *http.Client
	url    string
	logger core.Logger
}

// NewClient creates a model client. Endpoint and APIKey are required.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: ai config", core.ErrMissingConfiguration)
	}
	defaults := DefaultConfig()
	if config.APIVersion == "" {
		config.APIVersion = defaults.APIVersion
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Endpoint == "" {
		return nil, fmt.Errorf("%w: model endpoint", core.ErrMissingConfiguration)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: model API key", core.ErrMissingConfiguration)
	}

	return &Client{
		config: config,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		url:    completionsURL(config),
		logger: config.Logger,
	}, nil
}

// completionsURL builds the request URL for the configured endpoint.
func completionsURL(config *Config) string {
	base := strings.TrimRight(config.Endpoint, "/")
	if strings.Contains(base, ".openai.azure.com") {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, config.Deployment, config.APIVersion)
	}
	return base + "/chat/completions"
}

// Wire types for the chat-completions API.

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateResponse sends one prompt and returns the model's reply.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	messages := []core.ChatMessage{}
	if options != nil && options.SystemPrompt != "" {
		messages = append(messages, core.ChatMessage{Role: "system", Content: options.SystemPrompt})
	}
	messages = append(messages, core.ChatMessage{Role: "user", Content: prompt})
	return c.ChatWithTools(ctx, messages, nil, options)
}

// ChatWithTools sends a message history with an optional tool set. The
// response carries either assistant text or the first tool call.
func (c *Client) ChatWithTools(ctx context.Context, messages []core.ChatMessage, tools []core.ToolSchema, options *core.AIOptions) (*core.AIResponse, error) {
	body := chatRequest{
		Messages:    make([]wireMessage, 0, len(messages)),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	if options != nil {
		if options.Temperature > 0 {
			body.Temperature = options.Temperature
		}
		if options.MaxTokens > 0 {
			body.MaxTokens = options.MaxTokens
		}
		if options.Model != "" {
			body.Model = options.Model
		}
	}
	if body.Model == "" && !strings.Contains(c.url, "api-version=") {
		body.Model = c.config.Deployment
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, wireMessage{Role: m.Role, Name: m.Name, Content: m.Content})
	}
	for _, t := range tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", core.ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParseFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := resp.Status
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		c.logger.Error("Model request failed", map[string]interface{}{
			"operation":   "ai_request",
			"status":      resp.StatusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       message,
		})
		return nil, fmt.Errorf("%w: HTTP %d: %s", core.ErrRequestFailed, resp.StatusCode, message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", core.ErrParseFailed)
	}

	choice := parsed.Choices[0]
	out := &core.AIResponse{
		Content: choice.Message.Content,
		Model:   c.config.Deployment,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}

	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		arguments := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &arguments); err != nil {
				c.logger.Warn("Tool call arguments unparseable", map[string]interface{}{
					"operation": "ai_request",
					"tool":      call.Function.Name,
					"error":     err.Error(),
				})
			}
		}
		out.ToolCall = &core.ToolCall{Name: call.Function.Name, Arguments: arguments}
		out.Content = ""
	}

	c.logger.Debug("Model request completed", map[string]interface{}{
		"operation":    "ai_request",
		"duration_ms":  time.Since(start).Milliseconds(),
		"total_tokens": parsed.Usage.TotalTokens,
		"tool_call":    out.ToolCall != nil,
	})
	return out, nil
}

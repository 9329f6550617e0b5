package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/jaberry835/agentmesh/a2a"
	"github.com/jaberry835/agentmesh/core"
	"github.com/jaberry835/agentmesh/resilience"
	"github.com/jaberry835/agentmesh/tokens"
)

// ModelCaller routes every orchestrator-model call through the resilient
// executor so rate limits, retries, and the breaker apply uniformly.
type ModelCaller struct {
	client core.AIClient
	exec   *resilience.Executor
	logger core.Logger

	contextBudget int
	optimizer     *tokens.Optimizer
	monitor       *tokens.Monitor
}

// NewModelCaller wraps an AI client with an executor.
func NewModelCaller(client core.AIClient, exec *resilience.Executor, logger core.Logger) *ModelCaller {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ModelCaller{client: client, exec: exec, logger: logger}
}

// SetContextBudget installs a token budget for conversation histories.
// Conversations estimated above the budget are optimized down before
// the call; optimizations are recorded on monitor when it is non-nil.
func (m *ModelCaller) SetContextBudget(budget int, monitor *tokens.Monitor) {
	m.contextBudget = budget
	m.optimizer = tokens.NewOptimizer(m.logger)
	m.monitor = monitor
}

// Chat sends a tool-enabled conversation to the model.
func (m *ModelCaller) Chat(ctx context.Context, messages []core.ChatMessage, tools []core.ToolSchema, opts *core.AIOptions) (*core.AIResponse, error) {
	if m.contextBudget > 0 && m.optimizer != nil {
		fitted, adjusted := m.optimizer.Fit(messages, m.contextBudget)
		if adjusted && m.monitor != nil {
			m.monitor.Record("history_optimize", tokens.EstimateMessages(fitted), m.contextBudget, true)
		}
		messages = fitted
	}

	estimated := tokens.EstimateMessages(messages)
	var response *core.AIResponse
	err := m.exec.Execute(ctx, estimated, func(ctx context.Context) (int, error) {
		resp, err := m.client.ChatWithTools(ctx, messages, tools, opts)
		if err != nil {
			return 0, err
		}
		response = resp
		return resp.Usage.TotalTokens, nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// Generate sends a single prompt to the model and returns the text.
func (m *ModelCaller) Generate(ctx context.Context, prompt string, opts *core.AIOptions) (string, error) {
	estimated := tokens.EstimateText(prompt)
	var content string
	err := m.exec.Execute(ctx, estimated, func(ctx context.Context) (int, error) {
		resp, err := m.client.GenerateResponse(ctx, prompt, opts)
		if err != nil {
			return 0, err
		}
		content = resp.Content
		return resp.Usage.TotalTokens, nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// AgentCaller dispatches one task to one specialist. Implementations
// wrap the transport with per-agent resilience.
type AgentCaller interface {
	Call(ctx context.Context, agentName, task string, rctx RequestContext) (string, error)
}

// ResilientAgentCaller sends tasks over JSON-RPC with a per-agent
// breaker and the shared rate budget. Delegated-credential requests go
// through the client cache.
type ResilientAgentCaller struct {
	registry *Registry
	clients  *a2a.ClientCache
	group    *resilience.Group
	logger   core.Logger

	taskCeiling int
	monitor     *tokens.Monitor
}

// NewResilientAgentCaller wires registry, transport, and resilience.
func NewResilientAgentCaller(registry *Registry, clients *a2a.ClientCache, group *resilience.Group, logger core.Logger) *ResilientAgentCaller {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ResilientAgentCaller{
		registry: registry,
		clients:  clients,
		group:    group,
		logger:   logger,
	}
}

// SetTaskCeiling bounds the tokens of any single task sent to a
// specialist. Oversized tasks are truncated and recorded on monitor.
func (c *ResilientAgentCaller) SetTaskCeiling(ceiling int, monitor *tokens.Monitor) {
	c.taskCeiling = ceiling
	c.monitor = monitor
}

// truncateToCeiling cuts text so its estimate fits the ceiling. The
// estimator never maps fewer than four characters to one token, so
// ceiling*4 characters is a safe upper bound to trim toward.
func truncateToCeiling(text string, ceiling int) string {
	const marker = " [truncated]"
	limit := ceiling * 4
	if limit >= len(text) {
		limit = len(text)
	}
	for limit > 0 && tokens.EstimateText(tokens.ClipBytes(text, limit)+marker) > ceiling {
		limit = limit * 9 / 10
	}
	if limit >= len(text) {
		return text
	}
	return tokens.ClipBytes(text, limit) + marker
}

// Call looks up the agent, sends the task, and returns the content.
func (c *ResilientAgentCaller) Call(ctx context.Context, agentName, task string, rctx RequestContext) (string, error) {
	entry, ok := c.registry.Get(agentName)
	if !ok {
		return "", &core.OrchestrationError{
			Op: "orchestration.Call", Kind: "routing", Agent: agentName,
			Err: fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentName),
		}
	}

	headers := rctx.Headers()
	client := c.clients.For(headers)
	exec, err := c.group.For(agentName)
	if err != nil {
		return "", err
	}

	start := time.Now()
	estimated := tokens.EstimateText(task)
	if c.taskCeiling > 0 && estimated > c.taskCeiling {
		task = truncateToCeiling(task, c.taskCeiling)
		estimated = tokens.EstimateText(task)
		if c.monitor != nil {
			c.monitor.Record("agent:"+agentName, estimated, c.taskCeiling, true)
		}
		c.logger.Warn("Task truncated to per-agent token ceiling", map[string]interface{}{
			"operation": "agent_call",
			"agent":     agentName,
			"ceiling":   c.taskCeiling,
		})
	}

	var content string
	err = exec.Execute(ctx, estimated, func(ctx context.Context) (int, error) {
		result, err := client.SendMessage(ctx, entry.Card, task, headers)
		if err != nil {
			return 0, err
		}
		content = result
		return tokens.EstimateText(result), nil
	})
	if err != nil {
		c.logger.Error("Specialist call failed", map[string]interface{}{
			"operation":   "agent_call",
			"agent":       agentName,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       err.Error(),
		})
		return "", err
	}

	c.logger.Info("Specialist call completed", map[string]interface{}{
		"operation":   "agent_call",
		"agent":       agentName,
		"duration_ms": time.Since(start).Milliseconds(),
		"reply_chars": len(content),
	})
	return content, nil
}

package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaberry835/agentmesh/core"
)

// Host is the entry point for a user turn. It asks the orchestrator
// model to pick one of four actions and dispatches accordingly.
type Host struct {
	registry    *Registry
	model       *ModelCaller
	caller      AgentCaller
	researcher  *Researcher
	synthesizer *Synthesizer
	activity    ActivityPublisher
	telemetry   core.Telemetry
	logger      core.Logger
}

// NewHost wires the routing host.
func NewHost(registry *Registry, model *ModelCaller, caller AgentCaller, researcher *Researcher, synthesizer *Synthesizer, activity ActivityPublisher, logger core.Logger) *Host {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if activity == nil {
		activity = &NoOpActivityPublisher{}
	}
	return &Host{
		registry:    registry,
		model:       model,
		caller:      caller,
		researcher:  researcher,
		synthesizer: synthesizer,
		activity:    activity,
		telemetry:   &core.NoOpTelemetry{},
		logger:      logger,
	}
}

// SetTelemetry installs a tracer; the default is a no-op.
func (h *Host) SetTelemetry(t core.Telemetry) {
	if t != nil {
		h.telemetry = t
	}
}

// ProcessMessage routes one user message to a final answer. Errors after
// a specialist has already produced output are absorbed into partial
// findings; only turns with nothing to show propagate an error.
func (h *Host) ProcessMessage(ctx context.Context, message string, rctx RequestContext) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", &core.OrchestrationError{
			Op: "orchestration.ProcessMessage", Kind: "request",
			Err: fmt.Errorf("%w: empty message", core.ErrBadRequest),
		}
	}

	ctx, span := h.telemetry.StartSpan(ctx, "orchestration.process")
	defer span.End()
	span.SetAttribute("session_id", rctx.SessionID)

	messages := []core.ChatMessage{
		{Role: "system", Content: routingSystemPrompt(h.registry)},
		{Role: "user", Content: message},
	}
	resp, err := h.model.Chat(ctx, messages, nil, nil)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	action := h.extractAction(resp.Content)
	span.SetAttribute("action", action.Action)
	h.logger.Info("Routing decision", map[string]interface{}{
		"operation":  "route",
		"session_id": rctx.SessionID,
		"action":     action.Action,
		"agent":      action.Agent,
	})
	h.activity.Publish(rctx.SessionID, ActivityEvent{
		AgentName: coordinatorName, Action: action.Action, Status: ActivityStarted,
	})

	switch action.Action {
	case ActionDelegate:
		return h.delegate(ctx, action, rctx)
	case ActionCollaborate:
		return h.collaborate(ctx, message, action, rctx)
	case ActionResearch:
		return h.research(ctx, message, action, rctx)
	default:
		// Fast path: a direct answer never builds a group conversation.
		if action.Answer != "" {
			return action.Answer, nil
		}
		return strings.TrimSpace(resp.Content), nil
	}
}

// extractAction parses the model's structured decision, falling back to
// keyword routing and finally to treating the text as a direct answer.
func (h *Host) extractAction(content string) *Action {
	if action, ok := parseAction(content); ok {
		if action.Action == ActionDelegate {
			if _, known := h.registry.Get(action.Agent); !known {
				if fallback := h.keywordRoute(action.Task + " " + content); fallback != nil {
					return fallback
				}
				return &Action{Action: ActionDirectAnswer, Answer: noSpecialistAnswer(action.Agent)}
			}
		}
		return action
	}

	if fallback := h.keywordRoute(content); fallback != nil {
		h.logger.Warn("Structured routing output unparseable, using keyword fallback", map[string]interface{}{
			"operation": "route",
			"agent":     fallback.Agent,
		})
		return fallback
	}
	return &Action{Action: ActionDirectAnswer, Answer: strings.TrimSpace(content)}
}

// keywordRoute picks the specialist whose keywords best match the text.
func (h *Host) keywordRoute(text string) *Action {
	lower := strings.ToLower(text)
	bestScore := 0
	var bestAgent string
	for _, entry := range h.registry.List() {
		score := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if strings.Contains(lower, strings.ToLower(entry.Card.Name)) {
			score += 3
		}
		if score > bestScore {
			bestScore = score
			bestAgent = entry.Card.Name
		}
	}
	if bestScore < 2 {
		return nil
	}
	return &Action{Action: ActionDelegate, Agent: bestAgent, Task: text}
}

func (h *Host) delegate(ctx context.Context, action *Action, rctx RequestContext) (string, error) {
	task := action.Task
	if task == "" {
		task = action.Objective
	}
	content, err := h.caller.Call(ctx, action.Agent, task, rctx)
	if err != nil {
		h.activity.Publish(rctx.SessionID, ActivityEvent{
			AgentName: action.Agent, Action: ActionDelegate, Status: ActivityFailed, Details: err.Error(),
		})
		return "", err
	}
	h.activity.Publish(rctx.SessionID, ActivityEvent{
		AgentName: action.Agent, Action: ActionDelegate, Status: ActivityCompleted,
	})
	return "[" + action.Agent + "] " + content, nil
}

func (h *Host) collaborate(ctx context.Context, question string, action *Action, rctx RequestContext) (string, error) {
	agents := action.Agents
	if len(agents) == 0 && action.Task != "" {
		agents = normalizeAgentList(action.Task)
	}
	task := action.Task
	if task == "" {
		task = question
	}

	final, responses, err := h.researcher.Collaborate(ctx, task, agents, rctx)
	if err != nil {
		if len(responses) == 0 {
			return "", err
		}
		// Partial findings never raise to the caller.
		final = ""
	}
	return h.synthesizer.Synthesize(ctx, question, responses, final), nil
}

func (h *Host) research(ctx context.Context, question string, action *Action, rctx RequestContext) (string, error) {
	objective := action.Objective
	if objective == "" {
		objective = question
	}
	final, responses, err := h.researcher.Research(ctx, objective, action.Agents, rctx)
	if err != nil {
		if len(responses) == 0 {
			return "", err
		}
		return h.synthesizer.Synthesize(ctx, question, responses, ""), nil
	}
	return final, nil
}

func noSpecialistAnswer(agent string) string {
	if agent == "" {
		return "No specialist is available for this request."
	}
	return fmt.Sprintf("No specialist named %q is available for this request.", agent)
}

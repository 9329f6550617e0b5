package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jaberry835/agentmesh/core"
)

// Completion sentinels a research answer may carry. Matched
// case-insensitively with a minimum answer length.
var completionSentinels = []string{
	"final research findings:",
	"research complete:",
	"final answer:",
	"conclusion:",
	"in summary of all findings",
}

// Synthesis indicators that let a long narrative answer complete the
// loop without an explicit sentinel.
var completionIndicators = []string{
	"based on", "in summary", "findings show", "analysis reveals",
}

const (
	// minSentinelLength guards against a bare sentinel with no findings.
	minSentinelLength = 100
	// minNarrativeLength qualifies a plain-text answer as substantial.
	minNarrativeLength = 200
	// minSubstantialLength qualifies an assistant message for the
	// budget-exhaustion fallback.
	minSubstantialLength = 50
	// maxRoundsExhausted prefixes the budget-exhaustion fallback.
	maxRoundsExhausted = "Research reached maximum iterations"
)

// Keywords in an objective that justify keeping a document-oriented
// specialist among the candidates.
var documentObjectiveKeywords = []string{
	"document", "file", "pdf", "text", "upload", "attachment", ".txt", "docx", "report",
}

// delegateTool is the function schema offered to the model each round.
var delegateTool = core.ToolSchema{
	Name:        "delegate",
	Description: "Send one task to one specialist agent and get its result.",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent": map[string]interface{}{
				"type":        "string",
				"description": "Exact name of the specialist to call.",
			},
			"task": map[string]interface{}{
				"type":        "string",
				"description": "The task for the specialist.",
			},
		},
		"required": []string{"agent", "task"},
	},
}

// ResearcherConfig configures the iterative research loop.
type ResearcherConfig struct {
	// MaxRounds bounds the loop. One round is one model decision plus
	// at most one tool call.
	MaxRounds int
	Logger    core.Logger
}

// DefaultResearcherConfig returns production defaults.
func DefaultResearcherConfig() *ResearcherConfig {
	return &ResearcherConfig{
		MaxRounds: 12,
		Logger:    &core.NoOpLogger{},
	}
}

// Researcher runs the discovery-driven loop: the model proposes the next
// step, specialists execute it, and accumulated findings feed the next
// decision.
type Researcher struct {
	model      *ModelCaller
	caller     AgentCaller
	registry   *Registry
	activity   ActivityPublisher
	terminator *Terminator
	config     *ResearcherConfig
	logger     core.Logger
}

// NewResearcher wires the loop's collaborators.
func NewResearcher(model *ModelCaller, caller AgentCaller, registry *Registry, activity ActivityPublisher, config *ResearcherConfig) *Researcher {
	if config == nil {
		config = DefaultResearcherConfig()
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.MaxRounds <= 0 {
		config.MaxRounds = 12
	}
	if activity == nil {
		activity = &NoOpActivityPublisher{}
	}
	return &Researcher{
		model:    model,
		caller:   caller,
		registry: registry,
		activity: activity,
		config:   config,
		logger:   config.Logger,
	}
}

// SetTerminator installs the termination strategy consulted by
// collaboration sessions.
func (r *Researcher) SetTerminator(t *Terminator) {
	r.terminator = t
}

// Research runs an open-ended research session over the candidate
// agents. It returns the final findings plus the captured specialist
// responses.
func (r *Researcher) Research(ctx context.Context, objective string, candidates []string, rctx RequestContext) (string, []SpecialistResponse, error) {
	agents := r.filterCandidates(objective, candidates)
	if len(agents) == 0 {
		agents = r.registry.Names()
	}
	seed := researchSeedPrompt(objective, agents)
	return r.run(ctx, objective, seed, agents, rctx, false)
}

// Collaborate runs the same loop with the specialist order pinned up
// front and the termination strategy in charge of ending it.
func (r *Researcher) Collaborate(ctx context.Context, task string, agents []string, rctx RequestContext) (string, []SpecialistResponse, error) {
	var known []string
	for _, name := range agents {
		if _, ok := r.registry.Get(name); ok {
			known = append(known, name)
		}
	}
	if len(known) == 0 {
		known = r.registry.Names()
	}
	seed := collaborationSeedPrompt(task, known)
	return r.run(ctx, task, seed, known, rctx, true)
}

func (r *Researcher) run(ctx context.Context, objective, seed string, agents []string, rctx RequestContext, governed bool) (string, []SpecialistResponse, error) {
	history := NewHistory()
	history.Append("system", coordinatorName, researchSystemPrompt(agents))
	history.Append("user", "", seed)

	r.logger.Info("Research session started", map[string]interface{}{
		"operation":  "research",
		"session_id": rctx.SessionID,
		"agents":     strings.Join(agents, ","),
		"max_rounds": r.config.MaxRounds,
	})

	round := 0
	for round < r.config.MaxRounds {
		if err := ctx.Err(); err != nil {
			return "", specialistResponses(history), err
		}
		round++

		resp, err := r.model.Chat(ctx, chatMessages(history), []core.ToolSchema{delegateTool}, nil)
		if err != nil {
			if core.IsCancellation(err) {
				return "", specialistResponses(history), err
			}
			r.logger.Error("Model decision failed", map[string]interface{}{
				"operation": "research",
				"round":     round,
				"error":     err.Error(),
			})
			if partial := r.exhaustedAnswer(history); partial != maxRoundsExhausted+"." {
				return partial, specialistResponses(history), nil
			}
			return "", specialistResponses(history), err
		}

		if resp.ToolCall != nil && resp.ToolCall.Name == "delegate" {
			r.executeDelegation(ctx, history, resp.ToolCall, rctx, round)
			continue
		}

		text := strings.TrimSpace(resp.Content)
		if text == "" {
			history.Append("user", "", researchNudge)
			continue
		}
		history.Append("assistant", coordinatorName, text)

		if final, done := completedAnswer(text); done {
			r.logger.Info("Research session completed", map[string]interface{}{
				"operation":  "research",
				"session_id": rctx.SessionID,
				"rounds":     round,
			})
			return final, specialistResponses(history), nil
		}

		if governed && r.terminator != nil {
			if r.terminator.Decide(ctx, history, round) == Stop {
				return text, specialistResponses(history), nil
			}
		}

		history.Append("user", "", researchNudge)
	}

	r.logger.Warn("Research budget exhausted", map[string]interface{}{
		"operation":  "research",
		"session_id": rctx.SessionID,
		"objective":  objective,
		"rounds":     round,
	})
	return r.exhaustedAnswer(history), specialistResponses(history), nil
}

// specialistResponses extracts every successful or failed tool result
// from the history in order.
func specialistResponses(history *History) []SpecialistResponse {
	var out []SpecialistResponse
	for _, msg := range history.Messages() {
		if msg.Role == "tool" {
			out = append(out, SpecialistResponse{Agent: msg.AgentName, Content: msg.Content})
		}
	}
	return out
}

// executeDelegation runs one tool call and appends both the decision and
// its outcome, so the model always observes a causally ordered history.
func (r *Researcher) executeDelegation(ctx context.Context, history *History, call *core.ToolCall, rctx RequestContext, round int) {
	agent, _ := call.Arguments["agent"].(string)
	task, _ := call.Arguments["task"].(string)
	history.Append("assistant", coordinatorName, fmt.Sprintf("delegate(%s, %s)", agent, task))

	r.activity.Publish(rctx.SessionID, ActivityEvent{
		AgentName: agent, Action: "delegate", Status: ActivityStarted, Details: task,
	})

	start := time.Now()
	result, err := r.caller.Call(ctx, agent, task, rctx)
	if err != nil {
		// The error text enters the history so the model can adapt.
		result = fmt.Sprintf("Error delegating to %s: %v", agent, err)
		r.activity.Publish(rctx.SessionID, ActivityEvent{
			AgentName: agent, Action: "delegate", Status: ActivityFailed,
			Details: err.Error(), Duration: time.Since(start),
		})
	} else {
		r.activity.Publish(rctx.SessionID, ActivityEvent{
			AgentName: agent, Action: "delegate", Status: ActivityCompleted,
			Duration: time.Since(start),
		})
	}
	history.Append("tool", agent, result)

	r.logger.Debug("Delegation round finished", map[string]interface{}{
		"operation": "research",
		"round":     round,
		"agent":     agent,
		"failed":    err != nil,
	})
}

// completedAnswer reports whether text ends the loop, returning the
// final answer when it does.
func completedAnswer(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, sentinel := range completionSentinels {
		if strings.Contains(lower, sentinel) && len(text) >= minSentinelLength {
			return text, true
		}
	}
	if len(text) > minNarrativeLength {
		for _, indicator := range completionIndicators {
			if strings.Contains(lower, indicator) {
				return text, true
			}
		}
	}
	return "", false
}

// exhaustedAnswer concatenates the last three substantial assistant
// messages behind the max-iterations note.
func (r *Researcher) exhaustedAnswer(history *History) string {
	var substantial []string
	for _, msg := range history.Messages() {
		if msg.Role == "assistant" && len(msg.Content) > minSubstantialLength {
			substantial = append(substantial, msg.Content)
		}
	}
	if len(substantial) > 3 {
		substantial = substantial[len(substantial)-3:]
	}
	if len(substantial) == 0 {
		return maxRoundsExhausted + "."
	}
	return maxRoundsExhausted + ". Findings so far:\n\n" + strings.Join(substantial, "\n\n")
}

// filterCandidates keeps candidates that exist in the registry, then
// drops document-oriented specialists when the objective mentions
// nothing document-like.
func (r *Researcher) filterCandidates(objective string, candidates []string) []string {
	lowerObjective := strings.ToLower(objective)
	mentionsDocuments := false
	for _, kw := range documentObjectiveKeywords {
		if strings.Contains(lowerObjective, kw) {
			mentionsDocuments = true
			break
		}
	}

	var agents []string
	for _, name := range candidates {
		entry, ok := r.registry.Get(name)
		if !ok {
			r.logger.Warn("Dropping unknown research candidate", map[string]interface{}{
				"operation": "research",
				"agent":     name,
			})
			continue
		}
		if !mentionsDocuments && isDocumentSpecialist(entry) {
			continue
		}
		agents = append(agents, name)
	}
	return agents
}

func isDocumentSpecialist(entry *Entry) bool {
	for _, kw := range entry.Keywords {
		if kw == "document" || kw == "documents" || kw == "file" || kw == "files" {
			return true
		}
	}
	return false
}

// chatMessages projects a history into the model's message format.
func chatMessages(history *History) []core.ChatMessage {
	msgs := history.Messages()
	out := make([]core.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := core.ChatMessage{Role: m.Role, Content: m.Content}
		if m.Role == "tool" {
			cm.Name = m.AgentName
		}
		out = append(out, cm)
	}
	return out
}

package orchestration

import (
	"context"
	"strings"

	"github.com/jaberry835/agentmesh/core"
)

// Verdict is the termination decision for a group conversation.
type Verdict int

const (
	// Continue means the conversation needs more work.
	Continue Verdict = iota
	// Stop means the conversation produced a complete answer.
	Stop
)

func (v Verdict) String() string {
	if v == Stop {
		return "stop"
	}
	return "continue"
}

// Phrases in a Coordinator message that signal delegation or
// coordination still in flight.
var delegationPhrases = []string{
	"let me", "i'll", "i will", "need to", "needs to",
	"going to ask", "delegating", "handing off",
}

// Work-in-progress indicators.
var wipPhrases = []string{
	"retrieving", "calculating", "waiting for", "fetching",
	"querying", "looking up", "in progress",
}

// Synthesis phrases that show the Coordinator referenced specialist
// findings without naming the specialists.
var synthesisPhrases = []string{
	"based on", "the data shows", "combining", "according to the",
	"the results show", "in summary", "findings show", "analysis reveals",
}

// Ack-words a COMPLETE verdict must contain to stand when specialists
// contributed data.
var ackWords = []string{
	"data", "result", "finding", "information",
	"calculation", "query", "analysis",
}

// minFinalLength is the shortest Coordinator message that can end a
// conversation outright.
const minFinalLength = 80

// minCompleteLength is the shortest message a model COMPLETE verdict
// can confirm.
const minCompleteLength = 50

// TerminatorConfig configures the termination strategy.
type TerminatorConfig struct {
	// MaxIterations is the hard safety cap on conversation turns.
	MaxIterations int
	Logger        core.Logger
}

// DefaultTerminatorConfig returns production defaults.
func DefaultTerminatorConfig() *TerminatorConfig {
	return &TerminatorConfig{
		MaxIterations: 10,
		Logger:        &core.NoOpLogger{},
	}
}

// Terminator decides whether a group conversation may end. Specialists
// never end a conversation; only the Coordinator has final authority.
type Terminator struct {
	model  *ModelCaller
	config *TerminatorConfig
	logger core.Logger
}

// NewTerminator creates a terminator backed by the orchestrator model.
func NewTerminator(model *ModelCaller, config *TerminatorConfig) *Terminator {
	if config == nil {
		config = DefaultTerminatorConfig()
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 10
	}
	return &Terminator{model: model, config: config, logger: config.Logger}
}

// Decide returns Stop when the conversation has produced a complete
// answer, Continue otherwise. iteration is the current turn counter.
func (t *Terminator) Decide(ctx context.Context, history *History, iteration int) Verdict {
	// Safety cap always wins.
	if iteration >= t.config.MaxIterations {
		t.logger.Warn("Conversation hit the iteration cap", map[string]interface{}{
			"operation": "termination",
			"iteration": iteration,
			"cap":       t.config.MaxIterations,
		})
		return Stop
	}

	if history.CountByRole("user") == 0 || history.CountByRole("assistant") == 0 {
		return Continue
	}

	last := history.Last()
	if last.Role != "assistant" || last.AgentName != coordinatorName {
		// Specialists never end a conversation.
		return Continue
	}
	final := strings.TrimSpace(last.Content)
	if final == "" {
		return Continue
	}

	if verdict, decided := t.immediateVerdict(history, final); decided {
		return verdict
	}

	return t.modelVerdict(ctx, history, final)
}

// immediateVerdict applies the cheap lexical triggers. decided is false
// when the model must be consulted.
func (t *Terminator) immediateVerdict(history *History, final string) (Verdict, bool) {
	lower := strings.ToLower(final)

	for _, phrase := range delegationPhrases {
		if strings.Contains(lower, phrase) {
			return Continue, true
		}
	}
	for _, phrase := range wipPhrases {
		if strings.Contains(lower, phrase) {
			return Continue, true
		}
	}
	for _, name := range specialistNames(history) {
		if name != coordinatorName && strings.Contains(lower, strings.ToLower(name)) &&
			containsDelegationIntent(lower) {
			return Continue, true
		}
	}

	if len(final) < minFinalLength {
		return Continue, true
	}

	// When specialists produced output the final message must reference
	// their findings, by name or by a synthesis phrase.
	if t.specialistsUnreferenced(history, lower) {
		return Continue, true
	}

	return Continue, false
}

func containsDelegationIntent(lower string) bool {
	for _, phrase := range []string{"ask", "check with", "will handle", "should look"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// specialistsUnreferenced reports whether specialists contributed output
// the final message fails to acknowledge.
func (t *Terminator) specialistsUnreferenced(history *History, lowerFinal string) bool {
	names := specialistNames(history)
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if strings.Contains(lowerFinal, strings.ToLower(name)) {
			return false
		}
	}
	for _, phrase := range synthesisPhrases {
		if strings.Contains(lowerFinal, phrase) {
			return false
		}
	}
	return true
}

// modelVerdict asks the orchestrator model for a binary decision, with
// lexical overrides guarding against premature COMPLETE answers.
func (t *Terminator) modelVerdict(ctx context.Context, history *History, final string) Verdict {
	question := ""
	if msg, ok := history.LastByRole("user"); ok {
		question = msg.Content
	}
	var specialist []string
	for _, msg := range history.Messages() {
		if msg.Role == "tool" || (msg.Role == "assistant" && msg.AgentName != "" && msg.AgentName != coordinatorName) {
			specialist = append(specialist, msg.AgentName+": "+msg.Content)
		}
	}

	answer, err := t.model.Generate(ctx, terminationPrompt(question, final, specialist), nil)
	if err != nil {
		t.logger.Warn("Termination check failed, continuing", map[string]interface{}{
			"operation": "termination",
			"error":     err.Error(),
		})
		return Continue
	}

	if !strings.Contains(strings.ToUpper(answer), "COMPLETE") {
		return Continue
	}

	// COMPLETE is overridden when the final message is too short or
	// fails to acknowledge specialist data at all.
	if len(final) < minCompleteLength {
		return Continue
	}
	if len(specialist) > 0 && !containsAckWord(final) {
		return Continue
	}
	return Stop
}

func containsAckWord(final string) bool {
	lower := strings.ToLower(final)
	for _, word := range ackWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// specialistNames collects the distinct non-Coordinator agent names that
// appear in the history.
func specialistNames(history *History) []string {
	seen := make(map[string]bool)
	var names []string
	for _, msg := range history.Messages() {
		if msg.AgentName == "" || msg.AgentName == coordinatorName {
			continue
		}
		if !seen[msg.AgentName] {
			seen[msg.AgentName] = true
			names = append(names, msg.AgentName)
		}
	}
	return names
}

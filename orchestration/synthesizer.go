package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaberry835/agentmesh/core"
)

// noResponse is returned when a turn produced nothing at all.
const noResponse = "No response generated"

// minSynthesisLength is the shortest model synthesis accepted before
// falling back to concatenation.
const minSynthesisLength = 20

// SpecialistResponse is one captured specialist contribution.
type SpecialistResponse struct {
	Agent   string
	Content string
}

// Synthesizer fuses specialist outputs and the Coordinator's last
// substantive message into one final reply.
type Synthesizer struct {
	model  *ModelCaller
	logger core.Logger
}

// NewSynthesizer creates a synthesizer backed by the orchestrator model.
func NewSynthesizer(model *ModelCaller, logger core.Logger) *Synthesizer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Synthesizer{model: model, logger: logger}
}

// Synthesize produces the final answer. Selection rules, first match
// wins: nothing at all, coordinator-only, single specialist, then model
// fusion with a concatenation fallback.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, responses []SpecialistResponse, coordinator string) string {
	responses = dedupeByAgent(responses)
	coordinator = strings.TrimSpace(coordinator)

	if len(responses) == 0 && coordinator == "" {
		return noResponse
	}

	if len(responses) == 0 {
		return coordinator
	}
	if coordinator != "" && len(coordinator) > minFinalLength && showsSynthesis(coordinator) {
		return coordinator
	}

	if len(responses) == 1 && coordinator == "" {
		return stripAgentPrefix(responses[0].Content, responses[0].Agent)
	}

	labeled := make([]string, 0, len(responses))
	for _, r := range responses {
		labeled = append(labeled, fmt.Sprintf("**%s**: %s", r.Agent, stripAgentPrefix(r.Content, r.Agent)))
	}

	answer, err := s.model.Generate(ctx, synthesisPrompt(question, labeled, coordinator), nil)
	if err != nil || len(strings.TrimSpace(answer)) < minSynthesisLength {
		if err != nil {
			s.logger.Warn("Synthesis call failed, falling back to concatenation", map[string]interface{}{
				"operation": "synthesis",
				"error":     err.Error(),
			})
		}
		return s.concatenate(responses, coordinator)
	}
	return strings.TrimSpace(answer)
}

// concatenate is the textual fallback: coordinator context first unless
// it is a deferral, then each specialist body.
func (s *Synthesizer) concatenate(responses []SpecialistResponse, coordinator string) string {
	var parts []string
	if coordinator != "" && !isDeferral(coordinator) {
		parts = append(parts, coordinator)
	}
	for _, r := range responses {
		parts = append(parts, stripAgentPrefix(r.Content, r.Agent))
	}
	if len(parts) == 0 {
		return noResponse
	}
	return strings.Join(parts, "\n\n")
}

// dedupeByAgent keeps the first response per agent name.
func dedupeByAgent(responses []SpecialistResponse) []SpecialistResponse {
	seen := make(map[string]bool)
	out := make([]SpecialistResponse, 0, len(responses))
	for _, r := range responses {
		if strings.TrimSpace(r.Content) == "" || seen[r.Agent] {
			continue
		}
		seen[r.Agent] = true
		out = append(out, r)
	}
	return out
}

// stripAgentPrefix removes a leading "agentName:" label from a body.
func stripAgentPrefix(content, agent string) string {
	trimmed := strings.TrimSpace(content)
	for _, prefix := range []string{agent + ":", "[" + agent + "]"} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
	}
	return trimmed
}

func showsSynthesis(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range synthesisPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// isDeferral reports whether a coordinator message merely hands off work
// rather than answering.
func isDeferral(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range delegationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

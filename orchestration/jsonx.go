package orchestration

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Routing actions the planning model may choose.
const (
	ActionDirectAnswer = "direct_answer"
	ActionDelegate     = "delegate"
	ActionCollaborate  = "collaborate"
	ActionResearch     = "research"
)

// Action is the structured routing decision extracted from the model.
type Action struct {
	Action    string   `json:"action"`
	Answer    string   `json:"answer,omitempty"`
	Agent     string   `json:"agent,omitempty"`
	Task      string   `json:"task,omitempty"`
	Objective string   `json:"objective,omitempty"`
	Agents    []string `json:"agents,omitempty"`
}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	actionFieldRe = regexp.MustCompile(`"action"\s*:\s*"(\w+)"`)
	agentFieldRe  = regexp.MustCompile(`"agent"\s*:\s*"([^"]+)"`)
	taskFieldRe   = regexp.MustCompile(`"task"\s*:\s*"([^"]*)"`)
)

// parseAction extracts a routing action from model output. The model is
// an unreliable source, so parsing degrades through four strategies:
// direct parse, fenced code block, first balanced object, and finally a
// field-by-field scrape.
func parseAction(content string) (*Action, bool) {
	trimmed := strings.TrimSpace(content)

	var action Action
	if err := json.Unmarshal([]byte(trimmed), &action); err == nil && action.Action != "" {
		return &action, true
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &action); err == nil && action.Action != "" {
			return &action, true
		}
	}

	if obj := firstObject(trimmed); obj != "" {
		if err := json.Unmarshal([]byte(obj), &action); err == nil && action.Action != "" {
			return &action, true
		}
	}

	// Last resort: scrape individual fields. Reduced confidence, but a
	// partial extraction beats a failed turn.
	if m := actionFieldRe.FindStringSubmatch(trimmed); m != nil {
		scraped := Action{Action: m[1]}
		if am := agentFieldRe.FindStringSubmatch(trimmed); am != nil {
			scraped.Agent = am[1]
		}
		if tm := taskFieldRe.FindStringSubmatch(trimmed); tm != nil {
			scraped.Task = tm[1]
		}
		return &scraped, true
	}

	return nil, false
}

// firstObject returns the first balanced top-level JSON object in s,
// respecting string literals and escapes.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// normalizeAgentList splits a model-supplied agent sequence. Both
// comma-separated and arrow-separated inputs are accepted.
func normalizeAgentList(raw string) []string {
	raw = strings.ReplaceAll(raw, "→", "->")
	raw = strings.ReplaceAll(raw, "->", ",")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if name := strings.TrimSpace(p); name != "" {
			out = append(out, name)
		}
	}
	return out
}

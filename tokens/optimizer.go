package tokens

import (
	"strings"

	"github.com/jaberry835/agentmesh/core"
)

// Optimizer thresholds. Messages above summarizeThreshold tokens are
// candidates for sentence-level summarization; truncation keeps the
// first truncateLength characters.
const (
	recentKeep         = 5
	summarizeThreshold = 2000
	truncateLength     = 500
	truncatedMarker    = " [truncated]"
)

// summaryKeywords mark sentences worth keeping when a long message is
// summarized down.
var summaryKeywords = []string{
	"result", "error", "success", "found", "data", "analysis", "summary",
}

// Optimizer fits a conversation history into a token budget, applying
// progressively lossier strategies until the budget is met.
type Optimizer struct {
	logger core.Logger
}

// NewOptimizer creates a history optimizer.
func NewOptimizer(logger core.Logger) *Optimizer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Optimizer{logger: logger}
}

// Fit returns a history within budget tokens, and whether anything was
// dropped, summarized, or truncated. The input is never mutated and the
// relative order of retained messages is preserved.
func (o *Optimizer) Fit(messages []core.ChatMessage, budget int) ([]core.ChatMessage, bool) {
	if EstimateMessages(messages) <= budget {
		return messages, false
	}

	// Pass 1: all system messages plus the most recent ones, then greedily
	// re-add earlier messages newest-first while the budget holds.
	result := o.selectWithinBudget(messages, budget)
	if EstimateMessages(result) <= budget {
		o.logOptimized("drop_oldest", messages, result)
		return result, true
	}

	// Pass 2: summarize oversized individual messages.
	for i, m := range result {
		if m.Role != "system" && EstimateMessage(m) > summarizeThreshold {
			result[i].Content = summarizeContent(m.Content)
		}
	}
	if EstimateMessages(result) <= budget {
		o.logOptimized("summarize", messages, result)
		return result, true
	}

	// Pass 3: hard-truncate non-system contents.
	for i, m := range result {
		if m.Role != "system" && len(m.Content) > truncateLength {
			result[i].Content = ClipBytes(m.Content, truncateLength) + truncatedMarker
		}
	}
	if EstimateMessages(result) <= budget {
		o.logOptimized("truncate", messages, result)
		return result, true
	}

	// Final fallback: system messages plus the last two.
	fallback := make([]core.ChatMessage, 0, len(result))
	var tail []core.ChatMessage
	for _, m := range result {
		if m.Role == "system" {
			fallback = append(fallback, m)
		} else {
			tail = append(tail, m)
		}
	}
	if len(tail) > 2 {
		tail = tail[len(tail)-2:]
	}
	fallback = append(fallback, tail...)
	o.logOptimized("fallback_minimal", messages, fallback)
	return fallback, true
}

// selectWithinBudget keeps system messages and the last recentKeep
// messages unconditionally, then adds earlier messages newest-first
// until the budget is exhausted.
func (o *Optimizer) selectWithinBudget(messages []core.ChatMessage, budget int) []core.ChatMessage {
	keep := make([]bool, len(messages))
	used := 0

	tailStart := len(messages) - recentKeep
	if tailStart < 0 {
		tailStart = 0
	}
	for i, m := range messages {
		if m.Role == "system" || i >= tailStart {
			keep[i] = true
			used += EstimateMessage(m) + listOverhead
		}
	}

	for i := tailStart - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		cost := EstimateMessage(messages[i]) + listOverhead
		if used+cost > budget {
			break
		}
		keep[i] = true
		used += cost
	}

	result := make([]core.ChatMessage, 0, len(messages))
	for i, m := range messages {
		if keep[i] {
			result = append(result, m)
		}
	}
	return result
}

// summarizeContent keeps the first sentence, the last sentence, and any
// sentence containing a summary keyword.
func summarizeContent(content string) string {
	sentences := splitSentences(content)
	if len(sentences) <= 2 {
		return content
	}

	kept := make([]string, 0, len(sentences))
	for i, s := range sentences {
		if i == 0 || i == len(sentences)-1 || containsKeyword(s) {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, " ")
}

func containsKeyword(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, kw := range summaryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// splitSentences breaks text on sentence-final punctuation, keeping the
// punctuation attached.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentence := strings.TrimSpace(text[start : i+1])
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func (o *Optimizer) logOptimized(strategy string, before, after []core.ChatMessage) {
	o.logger.Debug("History optimized to fit token budget", map[string]interface{}{
		"operation":     "history_optimize",
		"strategy":      strategy,
		"messages_in":   len(before),
		"messages_out":  len(after),
		"tokens_before": EstimateMessages(before),
		"tokens_after":  EstimateMessages(after),
	})
}

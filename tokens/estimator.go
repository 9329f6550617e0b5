// Package tokens provides model-agnostic token accounting: a heuristic
// estimator, a history optimizer that fits conversations into a budget,
// and a bounded usage monitor for observability.
package tokens

import (
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/jaberry835/agentmesh/core"
)

// Per-message structural overhead and per-list framing, matching the
// chat-completions wire format cost.
const (
	messageOverhead = 10
	listOverhead    = 3
)

// EstimateText estimates the token count of a text without a tokenizer.
// Characters are partitioned into classes with different average
// tokens-per-character ratios, then padded by 10%.
func EstimateText(text string) int {
	if text == "" {
		return 0
	}

	var alpha, digit, space, symbol int
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			alpha++
		case unicode.IsDigit(r):
			digit++
		case unicode.IsSpace(r):
			space++
		default:
			symbol++
		}
	}

	raw := float64(alpha)/4.0 + float64(digit)/2.5 + float64(space)/1.0 + float64(symbol)/3.0
	return int(math.Ceil(1.1 * raw))
}

// ClipBytes shortens text to at most limit bytes, backing the cut off
// to the previous rune boundary so it never produces invalid UTF-8.
func ClipBytes(text string, limit int) string {
	if limit >= len(text) {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// EstimateMessage estimates the token cost of one chat message including
// structural overhead.
func EstimateMessage(msg core.ChatMessage) int {
	return EstimateText(msg.Role) + EstimateText(msg.Name) + EstimateText(msg.Content) + messageOverhead
}

// EstimateMessages estimates the token cost of a message list.
func EstimateMessages(msgs []core.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m) + listOverhead
	}
	return total
}

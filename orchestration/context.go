// Package orchestration is the heart of the runtime: the agent registry,
// the routing host that picks an action for each user turn, the iterative
// research loop, the termination strategy for group conversations, and the
// synthesizer that fuses specialist outputs into one reply.
package orchestration

import (
	"time"

	"github.com/jaberry835/agentmesh/a2a"
)

// RequestContext carries the per-turn caller identity and credentials.
// It is created when a turn enters the routing host, propagated into
// every outbound call, and never stored.
type RequestContext struct {
	UserID        string
	SessionID     string
	Authorization string
	// Delegated holds delegated-credential headers keyed by header name.
	Delegated map[string]string
}

// Headers converts the context into forwardable transport headers.
func (rc RequestContext) Headers() a2a.ForwardHeaders {
	return a2a.ForwardHeaders{
		UserID:        rc.UserID,
		SessionID:     rc.SessionID,
		Authorization: rc.Authorization,
		Delegated:     rc.Delegated,
	}
}

// Message is one entry in a conversation history.
type Message struct {
	Role      string    `json:"role"`
	AgentName string    `json:"agent_name,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// History is an append-only, turn-local message sequence. Messages are
// never removed or reordered; token optimization happens on a projected
// copy, not on the history itself.
type History struct {
	messages []Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds one message, stamping it with the current time.
func (h *History) Append(role, agentName, content string) {
	h.messages = append(h.messages, Message{
		Role:      role,
		AgentName: agentName,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.messages)
}

// Messages returns a copy of the message sequence.
func (h *History) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Last returns the most recent message, or a zero Message when empty.
func (h *History) Last() Message {
	if len(h.messages) == 0 {
		return Message{}
	}
	return h.messages[len(h.messages)-1]
}

// LastByRole returns the most recent message with the given role.
func (h *History) LastByRole(role string) (Message, bool) {
	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == role {
			return h.messages[i], true
		}
	}
	return Message{}, false
}

// CountByRole returns how many messages carry the given role.
func (h *History) CountByRole(role string) int {
	n := 0
	for _, m := range h.messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

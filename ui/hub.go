// Package ui serves the public HTTP API: the ask and chat endpoints, the
// live agent-activity stream, liveness probes, and the session store
// adapter for external chat persistence.
package ui

import (
	"sync"
	"time"

	"github.com/jaberry835/agentmesh/core"
	"github.com/jaberry835/agentmesh/orchestration"
)

// subscriberBuffer bounds each subscriber channel. Slow consumers drop
// events rather than blocking the publisher.
const subscriberBuffer = 64

// ActivityNotice is one event delivered to stream subscribers.
type ActivityNotice struct {
	Event     string                      `json:"event"`
	Data      orchestration.ActivityEvent `json:"data"`
	Timestamp time.Time                   `json:"timestamp"`
}

// ActivityHub fans agent activity out to per-session SSE subscribers.
// It implements orchestration.ActivityPublisher.
type ActivityHub struct {
	mu     sync.Mutex
	subs   map[string]map[chan ActivityNotice]struct{}
	logger core.Logger
}

// NewActivityHub creates an empty hub.
func NewActivityHub(logger core.Logger) *ActivityHub {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ActivityHub{
		subs:   make(map[string]map[chan ActivityNotice]struct{}),
		logger: logger,
	}
}

// Publish delivers an event to every subscriber of the session. It
// never blocks; events to saturated subscribers are dropped.
func (h *ActivityHub) Publish(sessionID string, event orchestration.ActivityEvent) {
	notice := ActivityNotice{
		Event:     "agent-activity",
		Data:      event,
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		select {
		case ch <- notice:
		default:
			h.logger.Debug("Dropping activity event for slow subscriber", map[string]interface{}{
				"operation":  "activity_hub",
				"session_id": sessionID,
			})
		}
	}
}

// Subscribe registers a listener for one session. The returned cancel
// function must be called when the listener goes away.
func (h *ActivityHub) Subscribe(sessionID string) (<-chan ActivityNotice, func()) {
	ch := make(chan ActivityNotice, subscriberBuffer)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan ActivityNotice]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports the number of listeners for a session.
func (h *ActivityHub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

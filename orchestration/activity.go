package orchestration

import "time"

// ActivityEvent describes one step of agent activity for live observers.
type ActivityEvent struct {
	AgentName string        `json:"agentName"`
	Action    string        `json:"action"`
	Status    string        `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Activity statuses.
const (
	ActivityStarted   = "started"
	ActivityCompleted = "completed"
	ActivityFailed    = "failed"
)

// ActivityPublisher receives per-session activity events. Implementations
// must not block; the routing host publishes inline.
type ActivityPublisher interface {
	Publish(sessionID string, event ActivityEvent)
}

// NoOpActivityPublisher discards all events.
type NoOpActivityPublisher struct{}

// Publish does nothing.
func (n *NoOpActivityPublisher) Publish(sessionID string, event ActivityEvent) {}

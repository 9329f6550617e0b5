package tokens

import (
	"sync"
	"time"
)

// Risk levels returned by AssessRisk.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Risk thresholds in estimated tokens per call.
const (
	highRiskTokens   = 20000
	mediumRiskTokens = 10000
	monitorCapacity  = 1000
)

// UsageRecord is one observed model/tool call for observability.
type UsageRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	ContextLabel string    `json:"context"`
	TokensUsed   int       `json:"tokens_used"`
	MaxTokens    int       `json:"max_tokens"`
	Truncated    bool      `json:"truncated"`
}

// RiskAssessment summarizes the expected cost of an upcoming call.
type RiskAssessment struct {
	Level  string `json:"level"`
	Advice string `json:"advice"`
}

// Monitor keeps a bounded circular buffer of usage records and answers
// aggregate queries. Safe for concurrent use.
type Monitor struct {
	mu      sync.Mutex
	records [monitorCapacity]UsageRecord
	next    int
	count   int
}

// NewMonitor creates a usage monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Record appends one usage record, evicting the oldest when full.
// Implements resilience.UsageRecorder.
func (m *Monitor) Record(contextLabel string, tokensUsed, maxTokens int, truncated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[m.next] = UsageRecord{
		Timestamp:    time.Now(),
		ContextLabel: contextLabel,
		TokensUsed:   tokensUsed,
		MaxTokens:    maxTokens,
		Truncated:    truncated,
	}
	m.next = (m.next + 1) % monitorCapacity
	if m.count < monitorCapacity {
		m.count++
	}
}

// Recent returns up to n records, newest first.
func (m *Monitor) Recent(n int) []UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.count {
		n = m.count
	}
	out := make([]UsageRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + monitorCapacity) % monitorCapacity
		out = append(out, m.records[idx])
	}
	return out
}

// TruncationRate returns the fraction of recorded calls that were truncated.
func (m *Monitor) TruncationRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return 0
	}
	truncated := 0
	for i := 0; i < m.count; i++ {
		if m.records[i].Truncated {
			truncated++
		}
	}
	return float64(truncated) / float64(m.count)
}

// AssessRisk classifies the expected size of an upcoming call. A recent
// truncation rate above 20% raises low risk to medium.
func (m *Monitor) AssessRisk(estimatedTokens int) RiskAssessment {
	switch {
	case estimatedTokens > highRiskTokens:
		return RiskAssessment{
			Level:  RiskHigh,
			Advice: "request exceeds 20k tokens; split into smaller calls",
		}
	case estimatedTokens > mediumRiskTokens:
		return RiskAssessment{
			Level:  RiskMedium,
			Advice: "request exceeds 10k tokens; monitor for truncation",
		}
	}

	if m.TruncationRate() > 0.2 {
		return RiskAssessment{
			Level:  RiskMedium,
			Advice: "recent truncation rate above 20%; consider lowering context size",
		}
	}
	return RiskAssessment{Level: RiskLow, Advice: ""}
}

// Stats returns aggregate counters for observability endpoints.
func (m *Monitor) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	truncated := 0
	for i := 0; i < m.count; i++ {
		total += m.records[i].TokensUsed
		if m.records[i].Truncated {
			truncated++
		}
	}
	return map[string]interface{}{
		"records":      m.count,
		"tokens_total": total,
		"truncated":    truncated,
	}
}

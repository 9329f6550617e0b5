package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jaberry835/agentmesh/core"
	"github.com/jaberry835/agentmesh/resilience"
)

// scriptedAI replays a fixed sequence of model responses. Deterministic
// model behavior makes routing traces reproducible.
type scriptedAI struct {
	mu        sync.Mutex
	responses []*core.AIResponse
	errs      []error
	calls     int
	prompts   []string
}

func (s *scriptedAI) push(resp *core.AIResponse, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	s.errs = append(s.errs, err)
}

func (s *scriptedAI) pushText(text string) {
	s.push(&core.AIResponse{Content: text}, nil)
}

func (s *scriptedAI) pushToolCall(agent, task string) {
	s.push(&core.AIResponse{ToolCall: &core.ToolCall{
		Name:      "delegate",
		Arguments: map[string]interface{}{"agent": agent, "task": task},
	}}, nil)
}

func (s *scriptedAI) next() (*core.AIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("scripted model ran out of responses at call %d", s.calls+1)
	}
	resp, err := s.responses[s.calls], s.errs[s.calls]
	s.calls++
	return resp, err
}

func (s *scriptedAI) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedAI) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.next()
}

func (s *scriptedAI) ChatWithTools(ctx context.Context, messages []core.ChatMessage, tools []core.ToolSchema, options *core.AIOptions) (*core.AIResponse, error) {
	s.mu.Lock()
	if len(messages) > 0 {
		s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	}
	s.mu.Unlock()
	return s.next()
}

// recordingCaller answers specialist calls from a fixed map and records
// the call order.
type recordingCaller struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []string
	tasks   []string
}

func newRecordingCaller() *recordingCaller {
	return &recordingCaller{
		answers: make(map[string]string),
		errs:    make(map[string]error),
	}
}

func (c *recordingCaller) Call(ctx context.Context, agentName, task string, rctx RequestContext) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, agentName)
	c.tasks = append(c.tasks, task)
	if err, ok := c.errs[agentName]; ok {
		return "", err
	}
	if answer, ok := c.answers[agentName]; ok {
		return answer, nil
	}
	return "", fmt.Errorf("%w: %s", core.ErrAgentNotFound, agentName)
}

func (c *recordingCaller) callOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// fastExecutor builds an executor with no pacing so tests run instantly.
func fastExecutor() *resilience.Executor {
	exec, err := resilience.NewExecutor(&resilience.ExecutorConfig{
		Name: "test",
		Rate: &resilience.RateTrackerConfig{
			MaxConcurrent:      8,
			RequestsPerMinute:  100000,
			TokensPerMinute:    100000000,
			MinRequestInterval: 0,
		},
		Retry: &resilience.RetryConfig{
			MaxRetries:     0,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
		},
	})
	if err != nil {
		panic(err)
	}
	return exec
}

func newTestModel(ai *scriptedAI) *ModelCaller {
	return NewModelCaller(ai, fastExecutor(), nil)
}

// collectingPublisher captures activity events per session.
type collectingPublisher struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (p *collectingPublisher) Publish(sessionID string, event ActivityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

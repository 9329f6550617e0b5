package ui

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jaberry835/agentmesh/core"
	"github.com/jaberry835/agentmesh/orchestration"
	"github.com/jaberry835/agentmesh/tokens"
)

// defaultHeartbeat paces SSE keepalives.
const defaultHeartbeat = 30 * time.Second

// ServerConfig wires the public API.
type ServerConfig struct {
	Host     *orchestration.Host
	Hub      *ActivityHub
	Sessions SessionStore
	Monitor  *tokens.Monitor
	// BreakerStates reports per-agent circuit state for /status.
	BreakerStates func() map[string]string
	Heartbeat     time.Duration
	Logger        core.Logger
}

// Server is the public HTTP API in front of the routing host.
type Server struct {
	host      *orchestration.Host
	hub       *ActivityHub
	sessions  SessionStore
	monitor   *tokens.Monitor
	states    func() map[string]string
	heartbeat time.Duration
	logger    core.Logger
	started   time.Time
}

// NewServer creates the API server.
func NewServer(config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	heartbeat := config.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	sessions := config.Sessions
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	hub := config.Hub
	if hub == nil {
		hub = NewActivityHub(logger)
	}
	return &Server{
		host:      config.Host,
		hub:       hub,
		sessions:  sessions,
		monitor:   config.Monitor,
		states:    config.BreakerStates,
		heartbeat: heartbeat,
		logger:    logger,
		started:   time.Now(),
	}
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /sse/agent-activity/{sessionId}", s.handleActivityStream)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ping", s.handlePing)
	return otelhttp.NewHandler(mux, "ui")
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId,omitempty"`
}

type askResponse struct {
	Question  string `json:"question"`
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	rctx := requestContextFrom(r, req.SessionID, "")
	answer, err := s.host.ProcessMessage(r.Context(), req.Question, rctx)
	if err != nil {
		s.writeProcessError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Question:  req.Question,
		Response:  answer,
		SessionID: req.SessionID,
		Status:    "success",
	})
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	UserID      string        `json:"userId,omitempty"`
	SessionID   string        `json:"sessionId,omitempty"`
	UseRAG      bool          `json:"useRAG,omitempty"`
	UseMCPTools bool          `json:"useMCPTools,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message           chatResponseMessage `json:"message"`
	AgentInteractions []interface{}       `json:"agentInteractions"`
}

type chatResponseMessage struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	question := lastUserContent(req.Messages)
	if question == "" {
		writeJSONError(w, http.StatusBadRequest, "messages must contain a user message")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	rctx := requestContextFrom(r, req.SessionID, req.UserID)
	s.appendSession(r, req.SessionID, "user", "", question)

	answer, err := s.host.ProcessMessage(r.Context(), question, rctx)
	if err != nil {
		s.writeProcessError(w, r, err)
		return
	}
	s.appendSession(r, req.SessionID, "assistant", "Coordinator", answer)

	writeJSON(w, http.StatusOK, chatResponse{
		Message: chatResponseMessage{
			ID:        uuid.NewString(),
			Role:      "assistant",
			Content:   answer,
			Timestamp: time.Now(),
			Metadata: map[string]interface{}{
				"sessionId": req.SessionID,
			},
		},
		AgentInteractions: []interface{}{},
	})
}

func (s *Server) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "session id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events, cancel := s.hub.Subscribe(sessionID)
	defer cancel()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case notice := <-events:
			writeSSE(w, flusher, notice.Event, notice)
		case <-ticker.C:
			writeSSE(w, flusher, "heartbeat", map[string]interface{}{
				"event":     "heartbeat",
				"timestamp": time.Now(),
			})
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":         "running",
		"version":        core.Version,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if s.states != nil {
		status["circuit_breakers"] = s.states()
	}
	if s.monitor != nil {
		status["token_usage"] = s.monitor.Stats()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

// writeProcessError maps routing errors to user-safe HTTP responses.
// Raw upstream errors never leak to the public API.
func (s *Server) writeProcessError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, core.ErrBadRequest) {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	s.logger.Error("Request processing failed", map[string]interface{}{
		"operation": "api_request",
		"path":      r.URL.Path,
		"error":     err.Error(),
	})
	writeJSONError(w, http.StatusInternalServerError, "the request could not be completed")
}

func (s *Server) appendSession(r *http.Request, sessionID, role, agent, content string) {
	msg := orchestration.Message{
		Role:      role,
		AgentName: agent,
		Content:   content,
		Timestamp: time.Now(),
	}
	if err := s.sessions.AppendMessage(r.Context(), sessionID, msg); err != nil {
		s.logger.Warn("Session append failed", map[string]interface{}{
			"operation":  "session_store",
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// requestContextFrom lifts forwarded identity headers into the per-turn
// request context. Any extra X- header is treated as a delegated
// credential and forwarded verbatim.
func requestContextFrom(r *http.Request, sessionID, userID string) orchestration.RequestContext {
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	rctx := orchestration.RequestContext{
		UserID:        userID,
		SessionID:     sessionID,
		Authorization: r.Header.Get("Authorization"),
	}
	for name := range r.Header {
		if strings.HasPrefix(name, "X-") && name != "X-User-Id" && name != "X-Session-Id" {
			if rctx.Delegated == nil {
				rctx.Delegated = make(map[string]string)
			}
			rctx.Delegated[name] = r.Header.Get(name)
		}
	}
	return rctx
}

func lastUserContent(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message, "status": "error"})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

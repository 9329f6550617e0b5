package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jaberry835/agentmesh/core"
)

// TaskHandler executes one task and returns the response content.
// Headers carry the forwarded caller identity for the duration of the
// task only.
type TaskHandler func(ctx context.Context, task string, threadID string, headers ForwardHeaders) (string, error)

// Server exposes an agent over the wire protocol: a JSON-RPC endpoint
// handling message/send and message/stream, and the well-known card.
// Specialists built on this module mount it on their own mux.
type Server struct {
	card    *AgentCard
	handler TaskHandler
	logger  core.Logger
}

// NewServer creates a server for the given card and task handler.
func NewServer(card *AgentCard, handler TaskHandler, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if card.Protocol == "" {
		card.Protocol = Protocol
	}
	return &Server{card: card, handler: handler, logger: logger}
}

// Register mounts the JSON-RPC endpoint and the well-known card on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(WellKnownPath, s.handleCard)
	mux.HandleFunc("/", s.HandleJSONRPC)
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

// HandleJSONRPC serves message/send and message/stream.
func (s *Server) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "", CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeError(w, req.ID, CodeInvalidRequest, "invalid request envelope")
		return
	}

	headers := headersFromRequest(r)

	s.logger.Debug("Handling incoming task", map[string]interface{}{
		"operation":  "a2a_serve",
		"method":     req.Method,
		"request_id": req.ID,
		"session_id": headers.SessionID,
	})

	switch req.Method {
	case MethodMessageSend:
		s.serveUnary(w, r, req, headers)
	case MethodMessageStream:
		s.serveStream(w, r, req, headers)
	default:
		writeError(w, req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) serveUnary(w http.ResponseWriter, r *http.Request, req Request, headers ForwardHeaders) {
	content, err := s.handler(r.Context(), req.Params.Task, req.Params.ThreadID, headers)
	if err != nil {
		s.logger.Error("Task handler failed", map[string]interface{}{
			"operation":  "a2a_serve",
			"request_id": req.ID,
			"error":      err.Error(),
		})
		writeError(w, req.ID, CodeInternalError, err.Error())
		return
	}
	writeResult(w, req.ID, content)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, req Request, headers ForwardHeaders) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		// No streaming support in the response writer, degrade to unary.
		s.serveUnary(w, r, req, headers)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent(w, flusher, EventStreamStart, map[string]string{"id": req.ID})

	content, err := s.handler(r.Context(), req.Params.Task, req.Params.ThreadID, headers)

	envelope := Response{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		envelope.Error = &ResponseError{Code: CodeInternalError, Message: err.Error()}
	} else {
		writeEvent(w, flusher, EventStreamContent, map[string]string{"content": content})
		envelope.Result = &MessageResult{Content: content}
	}
	writeEvent(w, flusher, EventStreamEnd, envelope)
}

func headersFromRequest(r *http.Request) ForwardHeaders {
	headers := ForwardHeaders{
		UserID:        r.Header.Get(HeaderUserID),
		SessionID:     r.Header.Get(HeaderSessionID),
		Authorization: r.Header.Get(HeaderAuth),
	}
	// r.Header keys are canonicalized (X-User-Id), so the identity
	// constants must be canonicalized before comparing.
	userKey := http.CanonicalHeaderKey(HeaderUserID)
	sessionKey := http.CanonicalHeaderKey(HeaderSessionID)
	for name := range r.Header {
		if len(name) > 2 && name[:2] == "X-" && name != userKey && name != sessionKey {
			if headers.Delegated == nil {
				headers.Delegated = make(map[string]string)
			}
			headers.Delegated[name] = r.Header.Get(name)
		}
	}
	return headers
}

func writeResult(w http.ResponseWriter, id, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  &MessageResult{Content: content},
	})
}

func writeError(w http.ResponseWriter, id string, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ResponseError{Code: code, Message: message},
	})
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

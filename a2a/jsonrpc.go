// Package a2a implements the agent-to-agent transport: JSON-RPC 2.0 over
// HTTP with optional server-sent streaming, plus well-known-URI discovery
// of remote agent cards.
package a2a

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC method names understood by specialist agents.
const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
)

// Streaming event names emitted by the SSE variant, in order.
const (
	EventStreamStart   = "stream/start"
	EventStreamContent = "stream/content"
	EventStreamEnd     = "stream/end"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  MessageParams `json:"params"`
}

// MessageParams carries the task payload for message/send and message/stream.
type MessageParams struct {
	Task     string `json:"task"`
	ThreadID string `json:"threadId,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Result  *MessageResult `json:"result,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

// MessageResult is the successful result payload.
type MessageResult struct {
	Content string `json:"content"`
}

// ResponseError is the JSON-RPC error object. It indicates a tool-level
// failure distinct from transport failures.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes used by the server side.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// newRequest builds a fresh envelope for one call.
func newRequest(id, method, task, threadID string) ([]byte, error) {
	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  MessageParams{Task: task, ThreadID: threadID},
	}
	return json.Marshal(req)
}

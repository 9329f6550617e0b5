package a2a

import "sort"

// WellKnownPath is the conventional discovery URI served by every agent.
const WellKnownPath = "/.well-known/agent-card.json"

// Protocol is the protocol identifier advertised in agent cards.
const Protocol = "A2A-HTTP-JSONRPC-2.0"

// AgentCard describes a remote specialist. Cards are immutable after
// discovery; re-discovery replaces them wholesale.
type AgentCard struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Protocol     string        `json:"protocol"`
	Endpoints    CardEndpoints `json:"endpoints"`
	Auth         *CardAuth     `json:"auth,omitempty"`
	Capabilities []string      `json:"capabilities,omitempty"`

	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty"`
	Security        []map[string][]string     `json:"security,omitempty"`
}

// CardEndpoints lists the transport endpoints an agent exposes.
type CardEndpoints struct {
	JSONRPC string `json:"jsonrpc"`
}

// CardAuth hints at the authentication scheme an agent expects.
type CardAuth struct {
	Scheme string `json:"scheme,omitempty"`
	Header string `json:"header,omitempty"`
}

// SecurityScheme mirrors the OpenAPI-style scheme description in cards.
type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme,omitempty"`
	Name   string `json:"name,omitempty"`
	In     string `json:"in,omitempty"`
}

// Forwarded header names for caller identity and credentials.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
	HeaderAuth      = "Authorization"
)

// ForwardHeaders carries per-turn caller identity and credentials that
// are forwarded verbatim on every outbound call. Never stored.
type ForwardHeaders struct {
	UserID        string
	SessionID     string
	Authorization string
	// Delegated holds delegated-credential headers keyed by header name,
	// e.g. "X-ADX-Token".
	Delegated map[string]string
}

// DelegatedToken returns the concatenated delegated credentials in a
// stable order, used as a cache key discriminator. Empty when no
// delegation is present.
func (h ForwardHeaders) DelegatedToken() string {
	if len(h.Delegated) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h.Delegated))
	for k := range h.Delegated {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	token := ""
	for _, k := range keys {
		token += k + "=" + h.Delegated[k] + ";"
	}
	return token
}

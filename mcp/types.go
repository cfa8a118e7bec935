package mcp

// LatestProtocolVersion is the latest version of the protocol.
const LatestProtocolVersion = "2025-06-18"

// Streamable HTTP transport headers. Go matches header names case-insensitively;
// the canonical forms are used for clarity.
const (
	SessionIDHeader       = "Mcp-Session-Id"
	ProtocolVersionHeader = "Mcp-Protocol-Version"
	AuthorizationHeader   = "Authorization"
	WWWAuthenticateHeader = "WWW-Authenticate"
)

// ListChanged is the capability flag for list-change notifications.
type ListChanged struct {
	ListChanged bool `json:"listChanged"`
}

// Subscribable extends ListChanged with per-item subscriptions.
type Subscribable struct {
	ListChanged bool `json:"listChanged"`
	Subscribe   bool `json:"subscribe"`
}

// ClientCapabilities advertises client features.
type ClientCapabilities struct {
	Roots       *ListChanged  `json:"roots,omitempty"`
	Sampling    *struct{}     `json:"sampling,omitempty"`
	Elicitation *struct{}     `json:"elicitation,omitempty"`
	Tools       *ListChanged  `json:"tools,omitempty"`
	Resources   *Subscribable `json:"resources,omitempty"`
	Prompts     *ListChanged  `json:"prompts,omitempty"`
}

// DefaultClientCapabilities is the announcement a conformance client sends:
// list-change support for tools and prompts, list-change plus subscriptions
// for resources.
func DefaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		Tools:     &ListChanged{ListChanged: true},
		Resources: &Subscribable{ListChanged: true, Subscribe: true},
		Prompts:   &ListChanged{ListChanged: true},
	}
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Logging     *struct{}     `json:"logging,omitempty"`
	Prompts     *ListChanged  `json:"prompts,omitempty"`
	Resources   *Subscribable `json:"resources,omitempty"`
	Tools       *ListChanged  `json:"tools,omitempty"`
	Completions *struct{}     `json:"completions,omitempty"`
}

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// String renders the implementation as name/version.
func (i ImplementationInfo) String() string {
	if i.Version == "" {
		return i.Name
	}
	return i.Name + "/" + i.Version
}

// Tool describes a callable tool. InputSchema is kept raw: a client only
// forwards it, it never interprets it.
type Tool struct {
	Name        string         `json:"name"`
	Title       string         `json:"title,omitzero"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

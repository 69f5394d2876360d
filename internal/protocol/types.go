// Package protocol defines the JSON frames spoken on both WebSocket
// surfaces. Every frame is a text JSON object discriminated by a "type"
// field. Container-originated streaming frames are deliberately opaque to
// the backend: anything not listed here is forwarded to the client with
// conversation_id injected.
package protocol

import "encoding/json"

// Client -> backend command types.
const (
	TypeJoinConversation = "join_conversation"
	TypeUserMessage      = "user_message"
	TypeEditMessage      = "edit_message"
	TypeRegenerate       = "regenerate"
	TypeCancel           = "cancel"
	TypePing             = "ping"
)

// Backend -> client event types.
const (
	TypeConversationJoined = "conversation_joined"
	TypeMessageSaved       = "message_saved"
	TypeMessagesTruncated  = "messages_truncated"
	TypeContainerStatus    = "container_status"
	TypePong               = "pong"
	TypeError              = "error"
)

// Container -> backend frame types. Anything else is forwarded verbatim.
const (
	TypeReady    = "ready"
	TypeComplete = "complete"
)

// Backend -> container frame types.
const (
	TypeInit            = "init"
	TypeTruncateHistory = "truncate_history"
)

// Container status values.
const (
	ContainerStarting     = "starting"
	ContainerConnected    = "connected"
	ContainerDisconnected = "disconnected"
)

// Error codes surfaced to clients.
const (
	CodeNotFound             = "not_found"
	CodeInvalidMessage       = "invalid_message"
	CodeNoConversation       = "no_conversation"
	CodeContainerStartFailed = "container_start_failed"
	CodeInternalError        = "internal_error"
)

type JoinConversation struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type UserMessage struct {
	Type         string `json:"type"`
	MessageID    string `json:"message_id,omitempty"`
	Content      string `json:"content"`
	DeepThinking bool   `json:"deep_thinking,omitempty"`
}

type EditMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type Regenerate struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type ConversationJoined struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type MessageSaved struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type MessagesTruncated struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	AfterMessageID string `json:"after_message_id"`
	UpdatedContent string `json:"updated_content,omitempty"`
}

type ContainerStatus struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type Pong struct {
	Type string `json:"type"`
}

type Cancel struct {
	Type string `json:"type"`
}

type TruncateHistory struct {
	Type      string `json:"type"`
	KeepTurns int    `json:"keep_turns"`
}

// HistoryEntry is one message in the init frame's recent-history slice.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type MCPServerConfig struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Init is the handshake frame sent to a container after it reports ready.
// Provider credentials are decrypted freshly at build time and exist only on
// this internal connection.
type Init struct {
	Type            string            `json:"type"`
	ConversationID  string            `json:"conversation_id"`
	Provider        string            `json:"provider"`
	Model           string            `json:"model"`
	APIKey          string            `json:"api_key"`
	EndpointURL     string            `json:"endpoint_url,omitempty"`
	SystemPrompt    string            `json:"system_prompt,omitempty"`
	ToolsEnabled    bool              `json:"tools_enabled"`
	MCPServers      []MCPServerConfig `json:"mcp_servers"`
	History         []HistoryEntry    `json:"history"`
	ImageProvider   string            `json:"image_provider,omitempty"`
	ImageModel      string            `json:"image_model,omitempty"`
	ImageAPIKey     string            `json:"image_api_key,omitempty"`
	ImageEndpoint   string            `json:"image_endpoint_url,omitempty"`
}

// Complete is the container's final frame for one assistant turn.
type Complete struct {
	Type       string          `json:"type"`
	Content    string          `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	TokenUsage *TokenUsage     `json:"token_usage,omitempty"`
}

type TokenUsage struct {
	Prompt     int `json:"prompt,omitempty"`
	Completion int `json:"completion,omitempty"`
	Total      int `json:"total,omitempty"`
}

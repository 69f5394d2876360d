package domain

import "time"

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	IsAdmin      bool       `json:"is_admin"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"-"`
}

type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	ProviderName  *string    `json:"provider_name,omitempty"`
	ModelName     *string    `json:"model_name,omitempty"`
	ImageProvider *string    `json:"image_provider,omitempty"`
	ImageModel    *string    `json:"image_model,omitempty"`
	SystemPrompt  *string    `json:"system_prompt,omitempty"`
	DeepThinking  bool       `json:"deep_thinking"`
	ShareToken    *string    `json:"share_token,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"-"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user, assistant, system, tool
	Content        string    `json:"content"`
	ToolCalls      *string   `json:"tool_calls,omitempty"` // serialized JSON blob
	TokenCount     *int      `json:"token_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Provider is a stored LLM provider credential. APIKeyEncrypted holds the
// AES-GCM ciphertext; the plaintext key never leaves the vault except inside
// a container init frame.
type Provider struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Name            string     `json:"name"`
	Kind            string     `json:"kind"` // openai, anthropic, ...
	APIKeyEncrypted string     `json:"-"`
	EndpointURL     *string    `json:"endpoint_url,omitempty"`
	Models          []string   `json:"models"`
	ImageModels     []string   `json:"image_models"`
	IsDefault       bool       `json:"is_default"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"-"`
}

// Preset is a named bundle of provider/model/system-prompt settings a user
// can apply to new conversations.
type Preset struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	ProviderName string    `json:"provider_name"`
	ModelName    string    `json:"model_name"`
	SystemPrompt *string   `json:"system_prompt,omitempty"`
	DeepThinking bool      `json:"deep_thinking"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type MCPServer struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Name           string            `json:"name"`
	Transport      string            `json:"transport"` // stdio, sse, http
	Command        *string           `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	URL            *string           `json:"url,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RefreshToken rows store only the SHA-256 hash of the opaque token value.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

const (
	MCPTransportStdio = "stdio"
	MCPTransportSSE   = "sse"
	MCPTransportHTTP  = "http"
)

const (
	ProviderKindOpenAI    = "openai"
	ProviderKindAnthropic = "anthropic"
)

// DefaultModel is the last resort of the model fallback chain:
// conversation override, then the provider's first model, then this.
const DefaultModel = "gpt-4o"

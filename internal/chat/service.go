// Package chat implements the conversation state machine behind both
// WebSocket endpoints: persisting turns, deriving titles, computing history
// truncation for edits and regenerates, and assembling container init frames.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/id"
	"github.com/cruciblehq/crucible/internal/metrics"
	"github.com/cruciblehq/crucible/internal/protocol"
	"github.com/cruciblehq/crucible/internal/vault"
)

type Service struct {
	store         Store
	encryptionKey string
	historyLimit  int
}

// Store is the slice of the persistence gateway the state machine needs.
type Store interface {
	GetConversation(ctx context.Context, id, userID string) (*domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	TouchConversation(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id, conversationID string) (*domain.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	DeleteMessagesAfter(ctx context.Context, conversationID, messageID string) (int64, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	CountUserMessagesBefore(ctx context.Context, conversationID, messageID string) (int, error)
	GetLastUserMessageBefore(ctx context.Context, conversationID, messageID string) (*domain.Message, error)
	ListMCPServers(ctx context.Context, conversationID string) ([]*domain.MCPServer, error)
	GetProviderByName(ctx context.Context, userID, name string) (*domain.Provider, error)
	GetDefaultProvider(ctx context.Context, userID string) (*domain.Provider, error)
}

func NewService(store Store, encryptionKey string, historyLimit int) *Service {
	return &Service{
		store:         store,
		encryptionKey: encryptionKey,
		historyLimit:  historyLimit,
	}
}

// SaveUserMessage persists a user turn. The first message of a conversation
// also sets its title.
func (s *Service) SaveUserMessage(ctx context.Context, convID, content string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:             id.NewMessage(),
		ConversationID: convID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(domain.RoleUser).Inc()

	count, err := s.store.CountMessages(ctx, convID)
	if err != nil {
		return nil, err
	}
	if count == 1 {
		if err := s.store.UpdateConversationTitle(ctx, convID, DeriveTitle(content)); err != nil {
			return nil, err
		}
	} else if err := s.store.TouchConversation(ctx, convID); err != nil {
		return nil, err
	}
	return msg, nil
}

// Truncation is the result of an edit or regenerate: the conversation suffix
// has been deleted and Resend carries the user message the container must
// process again.
type Truncation struct {
	// KeepTurns counts the user messages strictly before the resend target;
	// the container keeps that many user turns of in-memory history.
	KeepTurns int
	// AfterMessageID is the last surviving message.
	AfterMessageID string
	// Resend is the user message to send (or re-send) to the container.
	Resend *domain.Message
	// ContentUpdated is true when Resend's content was rewritten by an edit.
	ContentUpdated bool
}

// EditMessage rewrites a user message and deletes everything after it.
func (s *Service) EditMessage(ctx context.Context, convID, messageID, content string) (*Truncation, error) {
	msg, err := s.store.GetMessage(ctx, messageID, convID)
	if err != nil {
		return nil, err
	}
	if msg.Role != domain.RoleUser {
		return nil, fmt.Errorf("%w: can only edit user messages", domain.ErrInvalidMessage)
	}

	keepTurns, err := s.store.CountUserMessagesBefore(ctx, convID, messageID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateMessageContent(ctx, messageID, content); err != nil {
		return nil, err
	}
	if _, err := s.store.DeleteMessagesAfter(ctx, convID, messageID); err != nil {
		return nil, err
	}

	msg.Content = content
	return &Truncation{
		KeepTurns:      keepTurns,
		AfterMessageID: messageID,
		Resend:         msg,
		ContentUpdated: true,
	}, nil
}

// Regenerate deletes the suffix after the user message preceding the target
// assistant message, so the container re-answers the same user turn.
func (s *Service) Regenerate(ctx context.Context, convID, messageID string) (*Truncation, error) {
	msg, err := s.store.GetMessage(ctx, messageID, convID)
	if err != nil {
		return nil, err
	}
	if msg.Role != domain.RoleAssistant {
		return nil, fmt.Errorf("%w: can only regenerate assistant messages", domain.ErrInvalidMessage)
	}

	userMsg, err := s.store.GetLastUserMessageBefore(ctx, convID, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no preceding user message", domain.ErrInvalidMessage)
		}
		return nil, err
	}

	keepTurns, err := s.store.CountUserMessagesBefore(ctx, convID, userMsg.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.DeleteMessagesAfter(ctx, convID, userMsg.ID); err != nil {
		return nil, err
	}

	return &Truncation{
		KeepTurns:      keepTurns,
		AfterMessageID: userMsg.ID,
		Resend:         userMsg,
	}, nil
}

// PersistAssistantMessage stores the container's final turn from a complete
// frame.
func (s *Service) PersistAssistantMessage(ctx context.Context, convID string, complete *protocol.Complete) (*domain.Message, error) {
	msg := &domain.Message{
		ID:             id.NewMessage(),
		ConversationID: convID,
		Role:           domain.RoleAssistant,
		Content:        complete.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if len(complete.ToolCalls) > 0 {
		toolCalls := string(complete.ToolCalls)
		msg.ToolCalls = &toolCalls
	}
	if complete.TokenUsage != nil && complete.TokenUsage.Completion > 0 {
		count := complete.TokenUsage.Completion
		msg.TokenCount = &count
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(domain.RoleAssistant).Inc()

	if err := s.store.TouchConversation(ctx, convID); err != nil {
		return nil, err
	}
	return msg, nil
}

// InitBundle pairs the init frame with the history-tail user message that was
// excluded from it, if any. The tail is resent as a command when no pending
// frame is stashed.
type InitBundle struct {
	Init *protocol.Init
	Tail *domain.Message
}

// BuildInit assembles the container handshake frame from fresh persistence
// and vault state: resolved provider with decrypted key, model fallback
// chain, system prompt, MCP servers and recent history.
func (s *Service) BuildInit(ctx context.Context, conv *domain.Conversation) (*InitBundle, error) {
	init := &protocol.Init{
		Type:           protocol.TypeInit,
		ConversationID: conv.ID,
		Model:          domain.DefaultModel,
		ToolsEnabled:   true,
		MCPServers:     []protocol.MCPServerConfig{},
		History:        []protocol.HistoryEntry{},
	}
	if conv.SystemPrompt != nil {
		init.SystemPrompt = *conv.SystemPrompt
	}

	provider, err := s.resolveProvider(ctx, conv)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		apiKey, err := vault.Decrypt(provider.APIKeyEncrypted, s.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt provider key: %w", err)
		}
		init.Provider = provider.Kind
		init.APIKey = apiKey
		if provider.EndpointURL != nil {
			init.EndpointURL = *provider.EndpointURL
		}
		if conv.ModelName != nil {
			init.Model = *conv.ModelName
		} else if len(provider.Models) > 0 {
			init.Model = provider.Models[0]
		}
	} else if conv.ModelName != nil {
		init.Model = *conv.ModelName
	}

	if err := s.fillImageProvider(ctx, conv, init); err != nil {
		return nil, err
	}

	servers, err := s.store.ListMCPServers(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	for _, srv := range servers {
		cfg := protocol.MCPServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Args:      srv.Args,
			Env:       srv.Env,
		}
		if srv.Command != nil {
			cfg.Command = *srv.Command
		}
		if srv.URL != nil {
			cfg.URL = *srv.URL
		}
		init.MCPServers = append(init.MCPServers, cfg)
	}

	history, err := s.store.ListRecentMessages(ctx, conv.ID, s.historyLimit)
	if err != nil {
		return nil, err
	}

	// A trailing user message is resent as a command after init, not fed in
	// as context, so the container treats it as the turn to answer.
	var tail *domain.Message
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser {
		tail = history[n-1]
		history = history[:n-1]
	}
	for _, msg := range history {
		init.History = append(init.History, protocol.HistoryEntry{Role: msg.Role, Content: msg.Content})
	}

	return &InitBundle{Init: init, Tail: tail}, nil
}

// resolveProvider follows the chain: conversation's named provider, then the
// user's default. A conversation with neither yields nil, not an error; the
// container surfaces the missing credential to the user.
func (s *Service) resolveProvider(ctx context.Context, conv *domain.Conversation) (*domain.Provider, error) {
	if conv.ProviderName != nil {
		provider, err := s.store.GetProviderByName(ctx, conv.UserID, *conv.ProviderName)
		if err == nil {
			return provider, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	provider, err := s.store.GetDefaultProvider(ctx, conv.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return provider, nil
}

func (s *Service) fillImageProvider(ctx context.Context, conv *domain.Conversation, init *protocol.Init) error {
	if conv.ImageProvider == nil {
		return nil
	}

	provider, err := s.store.GetProviderByName(ctx, conv.UserID, *conv.ImageProvider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	apiKey, err := vault.Decrypt(provider.APIKeyEncrypted, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("decrypt image provider key: %w", err)
	}

	init.ImageProvider = provider.Kind
	init.ImageAPIKey = apiKey
	if provider.EndpointURL != nil {
		init.ImageEndpoint = *provider.EndpointURL
	}
	if conv.ImageModel != nil {
		init.ImageModel = *conv.ImageModel
	} else if len(provider.ImageModels) > 0 {
		init.ImageModel = provider.ImageModels[0]
	}
	return nil
}

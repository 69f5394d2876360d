package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/protocol"
	"github.com/cruciblehq/crucible/internal/vault"
)

const testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// fakeStore keeps conversations, messages and providers in memory with the
// same ordering semantics as the SQL layer.
type fakeStore struct {
	conversations map[string]*domain.Conversation
	messages      []*domain.Message // chronological
	providers     []*domain.Provider
	mcpServers    map[string][]*domain.MCPServer
	clock         time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*domain.Conversation),
		mcpServers:    make(map[string][]*domain.MCPServer),
		clock:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) GetConversation(_ context.Context, id, userID string) (*domain.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) UpdateConversationTitle(_ context.Context, id, title string) error {
	if conv, ok := f.conversations[id]; ok {
		conv.Title = title
	}
	return nil
}

func (f *fakeStore) TouchConversation(_ context.Context, id string) error {
	if conv, ok := f.conversations[id]; ok {
		conv.UpdatedAt = f.tick()
	}
	return nil
}

func (f *fakeStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	msg.CreatedAt = f.tick()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id, conversationID string) (*domain.Message, error) {
	for _, msg := range f.messages {
		if msg.ID == id && msg.ConversationID == conversationID {
			return msg, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) UpdateMessageContent(_ context.Context, id, content string) error {
	for _, msg := range f.messages {
		if msg.ID == id {
			msg.Content = content
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) DeleteMessagesAfter(_ context.Context, conversationID, messageID string) (int64, error) {
	var pivot *domain.Message
	for _, msg := range f.messages {
		if msg.ID == messageID && msg.ConversationID == conversationID {
			pivot = msg
			break
		}
	}
	if pivot == nil {
		return 0, domain.ErrNotFound
	}

	var kept []*domain.Message
	var deleted int64
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID && msg.CreatedAt.After(pivot.CreatedAt) {
			deleted++
			continue
		}
		kept = append(kept, msg)
	}
	f.messages = kept
	return deleted, nil
}

func (f *fakeStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeStore) CountMessages(_ context.Context, conversationID string) (int, error) {
	count := 0
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountUserMessagesBefore(_ context.Context, conversationID, messageID string) (int, error) {
	pivot, err := f.GetMessage(context.Background(), messageID, conversationID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID && msg.Role == domain.RoleUser && msg.CreatedAt.Before(pivot.CreatedAt) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) GetLastUserMessageBefore(_ context.Context, conversationID, messageID string) (*domain.Message, error) {
	pivot, err := f.GetMessage(context.Background(), messageID, conversationID)
	if err != nil {
		return nil, err
	}
	var last *domain.Message
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID && msg.Role == domain.RoleUser && msg.CreatedAt.Before(pivot.CreatedAt) {
			last = msg
		}
	}
	if last == nil {
		return nil, domain.ErrNotFound
	}
	return last, nil
}

func (f *fakeStore) ListMCPServers(_ context.Context, conversationID string) ([]*domain.MCPServer, error) {
	return f.mcpServers[conversationID], nil
}

func (f *fakeStore) GetProviderByName(_ context.Context, userID, name string) (*domain.Provider, error) {
	for _, p := range f.providers {
		if p.UserID == userID && p.Name == name {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) GetDefaultProvider(_ context.Context, userID string) (*domain.Provider, error) {
	for _, p := range f.providers {
		if p.UserID == userID && p.IsDefault {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) addConversation(convID, userID string) *domain.Conversation {
	conv := &domain.Conversation{ID: convID, UserID: userID, Title: "New conversation"}
	f.conversations[convID] = conv
	return conv
}

func (f *fakeStore) addProvider(t *testing.T, userID, name, kind, apiKey string, models []string, isDefault bool) *domain.Provider {
	t.Helper()
	encrypted, err := vault.Encrypt(apiKey, testEncryptionKey)
	require.NoError(t, err)
	p := &domain.Provider{
		UserID:          userID,
		Name:            name,
		Kind:            kind,
		APIKeyEncrypted: encrypted,
		Models:          models,
		IsDefault:       isDefault,
	}
	f.providers = append(f.providers, p)
	return p
}

func (f *fakeStore) seedHistory(convID string, turns int) []*domain.Message {
	var out []*domain.Message
	for i := 0; i < turns; i++ {
		u := &domain.Message{ID: fmt.Sprintf("msg_u%d", i+1), ConversationID: convID, Role: domain.RoleUser, Content: fmt.Sprintf("question %d", i+1)}
		a := &domain.Message{ID: fmt.Sprintf("msg_a%d", i+1), ConversationID: convID, Role: domain.RoleAssistant, Content: fmt.Sprintf("answer %d", i+1)}
		_ = f.CreateMessage(context.Background(), u)
		_ = f.CreateMessage(context.Background(), a)
		out = append(out, u, a)
	}
	return out
}

func newTestService(f *fakeStore) *Service {
	return NewService(f, testEncryptionKey, 50)
}

func TestSaveUserMessageDerivesTitleOnFirstMessage(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	msg, err := svc.SaveUserMessage(context.Background(), "conv_1", "Hello, explain virtualization in simple terms.")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, msg.Role)
	assert.Equal(t, "Hello, explain virtualization in simple terms.", conv.Title)

	count, _ := f.CountMessages(context.Background(), "conv_1")
	assert.Equal(t, 1, count)
}

func TestSaveUserMessageTitleOnlyOnce(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	_, err := svc.SaveUserMessage(context.Background(), "conv_1", "first")
	require.NoError(t, err)
	_, err = svc.SaveUserMessage(context.Background(), "conv_1", "second message that should not become the title")
	require.NoError(t, err)

	assert.Equal(t, "first", conv.Title)
}

func TestSaveUserMessageLongTitleTruncated(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	_, err := svc.SaveUserMessage(context.Background(), "conv_1", strings.Repeat("virtualization ", 10))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(conv.Title, "…"))
}

func TestEditMessageTruncatesSuffix(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)
	f.seedHistory("conv_1", 2) // u1 a1 u2 a2

	trunc, err := svc.EditMessage(context.Background(), "conv_1", "msg_u2", "question 2 revised")
	require.NoError(t, err)

	assert.Equal(t, 1, trunc.KeepTurns) // u1 precedes u2
	assert.Equal(t, "msg_u2", trunc.AfterMessageID)
	assert.Equal(t, "question 2 revised", trunc.Resend.Content)
	assert.True(t, trunc.ContentUpdated)

	// a2 deleted, u1 a1 u2 remain, u2 holds the new content.
	count, _ := f.CountMessages(context.Background(), "conv_1")
	assert.Equal(t, 3, count)
	u2, err := f.GetMessage(context.Background(), "msg_u2", "conv_1")
	require.NoError(t, err)
	assert.Equal(t, "question 2 revised", u2.Content)
}

func TestEditMessageRejectsAssistantTarget(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)
	f.seedHistory("conv_1", 2)

	_, err := svc.EditMessage(context.Background(), "conv_1", "msg_a1", "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	// Nothing was deleted or rewritten.
	count, _ := f.CountMessages(context.Background(), "conv_1")
	assert.Equal(t, 4, count)
	a1, _ := f.GetMessage(context.Background(), "msg_a1", "conv_1")
	assert.Equal(t, "answer 1", a1.Content)
}

func TestEditMessageUnknownID(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	_, err := svc.EditMessage(context.Background(), "conv_1", "msg_ghost", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegenerateDeletesOnlySuffix(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)
	f.seedHistory("conv_1", 2) // u1 a1 u2 a2

	trunc, err := svc.Regenerate(context.Background(), "conv_1", "msg_a2")
	require.NoError(t, err)

	assert.Equal(t, 1, trunc.KeepTurns)
	assert.Equal(t, "msg_u2", trunc.AfterMessageID)
	assert.Equal(t, "question 2", trunc.Resend.Content)
	assert.False(t, trunc.ContentUpdated)

	// a1 and u2 preserved, only a2 gone.
	count, _ := f.CountMessages(context.Background(), "conv_1")
	assert.Equal(t, 3, count)
	_, err = f.GetMessage(context.Background(), "msg_a1", "conv_1")
	assert.NoError(t, err)
	_, err = f.GetMessage(context.Background(), "msg_a2", "conv_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegenerateRejectsUserTarget(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)
	f.seedHistory("conv_1", 1)

	_, err := svc.Regenerate(context.Background(), "conv_1", "msg_u1")
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
}

func TestRegenerateWithoutPrecedingUserMessage(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	orphan := &domain.Message{ID: "msg_a0", ConversationID: "conv_1", Role: domain.RoleAssistant, Content: "hello"}
	require.NoError(t, f.CreateMessage(context.Background(), orphan))

	_, err := svc.Regenerate(context.Background(), "conv_1", "msg_a0")
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)

	count, _ := f.CountMessages(context.Background(), "conv_1")
	assert.Equal(t, 1, count)
}

func TestPersistAssistantMessage(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	complete := &protocol.Complete{
		Type:       protocol.TypeComplete,
		Content:    "here is the answer",
		ToolCalls:  []byte(`[{"name":"read_file"}]`),
		TokenUsage: &protocol.TokenUsage{Prompt: 100, Completion: 42, Total: 142},
	}

	msg, err := svc.PersistAssistantMessage(context.Background(), "conv_1", complete)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAssistant, msg.Role)
	require.NotNil(t, msg.TokenCount)
	assert.Equal(t, 42, *msg.TokenCount)
	require.NotNil(t, msg.ToolCalls)
	assert.JSONEq(t, `[{"name":"read_file"}]`, *msg.ToolCalls)
}

func TestPersistAssistantMessageWithoutUsage(t *testing.T) {
	f := newFakeStore()
	f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	msg, err := svc.PersistAssistantMessage(context.Background(), "conv_1", &protocol.Complete{Content: "plain"})
	require.NoError(t, err)
	assert.Nil(t, msg.TokenCount)
	assert.Nil(t, msg.ToolCalls)
}

func TestBuildInitResolvesNamedProvider(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	name := "work-openai"
	conv.ProviderName = &name
	f.addProvider(t, "usr_1", "work-openai", domain.ProviderKindOpenAI, "sk-work", []string{"gpt-5", "gpt-4o"}, false)
	svc := newTestService(f)

	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, protocol.TypeInit, bundle.Init.Type)
	assert.Equal(t, domain.ProviderKindOpenAI, bundle.Init.Provider)
	assert.Equal(t, "sk-work", bundle.Init.APIKey)
	assert.Equal(t, "gpt-5", bundle.Init.Model) // first model in list
}

func TestBuildInitFallsBackToDefaultProvider(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	f.addProvider(t, "usr_1", "personal", domain.ProviderKindAnthropic, "sk-personal", []string{"claude-sonnet-4-5"}, true)
	svc := newTestService(f)

	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderKindAnthropic, bundle.Init.Provider)
	assert.Equal(t, "sk-personal", bundle.Init.APIKey)
}

func TestBuildInitModelFallbackChain(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	model := "o3-pro"
	conv.ModelName = &model
	f.addProvider(t, "usr_1", "personal", domain.ProviderKindOpenAI, "sk", []string{"gpt-4o"}, true)
	svc := newTestService(f)

	// Conversation override wins over the provider's model list.
	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, "o3-pro", bundle.Init.Model)

	// With no override and an empty model list, the hardcoded default wins.
	conv.ModelName = nil
	f.providers[0].Models = nil
	bundle, err = svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultModel, bundle.Init.Model)
}

func TestBuildInitNoProviderConfigured(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)

	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)
	assert.Empty(t, bundle.Init.Provider)
	assert.Empty(t, bundle.Init.APIKey)
	assert.Equal(t, domain.DefaultModel, bundle.Init.Model)
}

func TestBuildInitExcludesUserTailFromHistory(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)
	f.seedHistory("conv_1", 1) // u1 a1
	pending := &domain.Message{ID: "msg_u2", ConversationID: "conv_1", Role: domain.RoleUser, Content: "unanswered"}
	require.NoError(t, f.CreateMessage(context.Background(), pending))

	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)

	require.NotNil(t, bundle.Tail)
	assert.Equal(t, "msg_u2", bundle.Tail.ID)
	require.Len(t, bundle.Init.History, 2)
	assert.Equal(t, domain.RoleUser, bundle.Init.History[0].Role)
	assert.Equal(t, domain.RoleAssistant, bundle.Init.History[1].Role)
}

func TestBuildInitNoTailWhenHistoryEndsOnAssistant(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	svc := newTestService(f)
	f.seedHistory("conv_1", 2)

	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)
	assert.Nil(t, bundle.Tail)
	assert.Len(t, bundle.Init.History, 4)
}

func TestBuildInitIncludesMCPServers(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	cmd := "uvx"
	f.mcpServers["conv_1"] = []*domain.MCPServer{{
		ConversationID: "conv_1",
		Name:           "filesystem",
		Transport:      domain.MCPTransportStdio,
		Command:        &cmd,
		Args:           []string{"mcp-server-fs"},
		Env:            map[string]string{"ROOT": "/workspace"},
	}}
	svc := newTestService(f)

	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)

	require.Len(t, bundle.Init.MCPServers, 1)
	srv := bundle.Init.MCPServers[0]
	assert.Equal(t, "filesystem", srv.Name)
	assert.Equal(t, "uvx", srv.Command)
	assert.Equal(t, "/workspace", srv.Env["ROOT"])
}

func TestBuildInitImageProvider(t *testing.T) {
	f := newFakeStore()
	conv := f.addConversation("conv_1", "usr_1")
	imgName := "images"
	conv.ImageProvider = &imgName
	f.addProvider(t, "usr_1", "personal", domain.ProviderKindAnthropic, "sk-chat", []string{"claude-sonnet-4-5"}, true)
	img := f.addProvider(t, "usr_1", "images", domain.ProviderKindOpenAI, "sk-img", nil, false)
	img.ImageModels = []string{"dall-e-3"}
	svc := newTestService(f)

	bundle, err := svc.BuildInit(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderKindOpenAI, bundle.Init.ImageProvider)
	assert.Equal(t, "sk-img", bundle.Init.ImageAPIKey)
	assert.Equal(t, "dall-e-3", bundle.Init.ImageModel)
	// Chat credentials stay separate.
	assert.Equal(t, "sk-chat", bundle.Init.APIKey)
}

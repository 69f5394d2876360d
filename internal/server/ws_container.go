package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cruciblehq/crucible/internal/chat"
	"github.com/cruciblehq/crucible/internal/config"
	"github.com/cruciblehq/crucible/internal/domain"
	"github.com/cruciblehq/crucible/internal/hub"
	"github.com/cruciblehq/crucible/internal/metrics"
	"github.com/cruciblehq/crucible/internal/protocol"
	"github.com/cruciblehq/crucible/internal/sandbox"
	"github.com/cruciblehq/crucible/internal/store"
	"github.com/cruciblehq/crucible/internal/vault"
)

// containerChat is the slice of the chat service the container endpoint
// drives.
type containerChat interface {
	BuildInit(ctx context.Context, conv *domain.Conversation) (*chat.InitBundle, error)
	PersistAssistantMessage(ctx context.Context, convID string, complete *protocol.Complete) (*domain.Message, error)
}

// ContainerWS is the internal WebSocket endpoint sandbox containers dial
// back to with their short-lived container token.
type ContainerWS struct {
	hub       *hub.Hub
	store     conversationStore
	chat      containerChat
	registry  *sandbox.Registry
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewContainerWS(h *hub.Hub, st *store.Store, svc *chat.Service, registry *sandbox.Registry, cfg *config.Config) *ContainerWS {
	return &ContainerWS{
		hub:       h,
		store:     st,
		chat:      svc,
		registry:  registry,
		jwtSecret: cfg.Auth.JWTSecret,
		upgrader:  newUpgrader(cfg.Server),
	}
}

func (h *ContainerWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := vault.VerifyContainerToken(r.URL.Query().Get("token"), h.jwtSecret)
	if err != nil {
		http.Error(w, "invalid or expired container token", http.StatusUnauthorized)
		return
	}
	convID, userID := claims.ConversationID, claims.UserID

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws container: upgrade error", "error", err)
		return
	}
	defer conn.Close()

	metrics.ContainerConnections.Inc()
	defer metrics.ContainerConnections.Dec()

	outbox := hub.NewOutbox()
	go wsWriter(conn, outbox)
	defer outbox.Close()

	// Remember the generation: on disconnect only the entry we installed may
	// be removed, never a replacement's.
	gen := h.hub.AddContainer(convID, outbox)
	h.registry.Touch(convID)
	slog.Info("ws container: connected", "conversation_id", convID, "generation", gen)

	h.sendStatus(userID, convID, protocol.ContainerConnected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				slog.Error("ws container: read error", "conversation_id", convID, "error", err)
			}
			break
		}
		h.registry.Touch(convID)
		h.dispatch(r.Context(), convID, userID, outbox, data)
	}

	if h.hub.RemoveContainerIfGen(convID, gen) {
		h.sendStatus(userID, convID, protocol.ContainerDisconnected)
		slog.Info("ws container: disconnected", "conversation_id", convID, "generation", gen)
	} else {
		// A newer container owns the conversation now; stay silent.
		slog.Debug("ws container: stale disconnect", "conversation_id", convID, "generation", gen)
	}
}

func (h *ContainerWS) sendStatus(userID, convID, status string) {
	frame, err := protocol.Encode(protocol.ContainerStatus{
		Type:           protocol.TypeContainerStatus,
		ConversationID: convID,
		Status:         status,
	})
	if err != nil {
		return
	}
	h.hub.SendToClient(userID, convID, frame)
}

func (h *ContainerWS) dispatch(ctx context.Context, convID, userID string, outbox *hub.Outbox, data []byte) {
	frameType, err := protocol.Probe(data)
	if err != nil {
		slog.Debug("ws container: malformed frame dropped", "conversation_id", convID)
		return
	}

	switch frameType {
	case protocol.TypeReady:
		h.handleReady(ctx, convID, userID, outbox)
	case protocol.TypeComplete:
		h.handleComplete(ctx, convID, userID, data)
	default:
		// Streaming deltas, tool events, errors: schema is opaque here,
		// forward with conversation_id injected.
		h.forward(userID, convID, data, nil)
	}
}

// handleReady answers the container's handshake: a freshly built init frame,
// then the pending client command if one is stashed, otherwise the persisted
// history tail. This ordering is what makes container restarts invisible to
// a send already in flight.
func (h *ContainerWS) handleReady(ctx context.Context, convID, userID string, outbox *hub.Outbox) {
	conv, err := h.store.GetConversation(ctx, convID, userID)
	if err != nil {
		slog.Error("ws container: conversation lookup failed", "conversation_id", convID, "error", err)
		return
	}

	bundle, err := h.chat.BuildInit(ctx, conv)
	if err != nil {
		slog.Error("ws container: init build failed", "conversation_id", convID, "error", err)
		return
	}

	initFrame, err := protocol.Encode(bundle.Init)
	if err != nil {
		slog.Error("ws container: init encode failed", "error", err)
		return
	}
	outbox.Send(initFrame)

	if pending, ok := h.hub.TakePendingMessage(convID); ok {
		outbox.Send(pending)
		return
	}

	if bundle.Tail != nil {
		resend, err := protocol.Encode(protocol.UserMessage{
			Type:         protocol.TypeUserMessage,
			MessageID:    bundle.Tail.ID,
			Content:      bundle.Tail.Content,
			DeepThinking: conv.DeepThinking,
		})
		if err == nil {
			outbox.Send(resend)
		}
	}
}

func (h *ContainerWS) handleComplete(ctx context.Context, convID, userID string, data []byte) {
	var complete protocol.Complete
	if err := json.Unmarshal(data, &complete); err != nil {
		slog.Debug("ws container: malformed complete dropped", "conversation_id", convID)
		return
	}

	msg, err := h.chat.PersistAssistantMessage(ctx, convID, &complete)
	if err != nil {
		slog.Error("ws container: persist assistant message failed", "conversation_id", convID, "error", err)
		return
	}

	h.forward(userID, convID, data, map[string]any{"message_id": msg.ID})
}

// forward injects conversation_id (and any extra fields) into the raw frame
// and passes it to the owning client.
func (h *ContainerWS) forward(userID, convID string, raw []byte, extra map[string]any) {
	fields := map[string]any{"conversation_id": convID}
	for k, v := range extra {
		fields[k] = v
	}

	enriched, err := protocol.Inject(raw, fields)
	if err != nil {
		slog.Debug("ws container: forward dropped", "conversation_id", convID, "error", err)
		return
	}
	h.hub.SendToClient(userID, convID, enriched)
}

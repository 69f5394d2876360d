package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

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

// clientChat is the slice of the chat service the browser endpoint drives.
type clientChat interface {
	SaveUserMessage(ctx context.Context, convID, content string) (*domain.Message, error)
	EditMessage(ctx context.Context, convID, messageID, content string) (*chat.Truncation, error)
	Regenerate(ctx context.Context, convID, messageID string) (*chat.Truncation, error)
}

// containerStarter is what sendOrStart needs from the orchestrator.
type containerStarter interface {
	Registry() *sandbox.Registry
	StartContainer(ctx context.Context, convID, userID string) (string, error)
}

// ClientWS is the browser-facing WebSocket endpoint.
type ClientWS struct {
	hub          *hub.Hub
	store        conversationStore
	chat         clientChat
	orchestrator containerStarter
	jwtSecret    string
	upgrader     websocket.Upgrader
}

func NewClientWS(h *hub.Hub, st *store.Store, svc *chat.Service, orch *sandbox.Orchestrator, cfg *config.Config) *ClientWS {
	return &ClientWS{
		hub:          h,
		store:        st,
		chat:         svc,
		orchestrator: orch,
		jwtSecret:    cfg.Auth.JWTSecret,
		upgrader:     newUpgrader(cfg.Server),
	}
}

// clientSession is the per-connection state of one browser socket.
type clientSession struct {
	userID string
	convID string // empty until join_conversation
	outbox *hub.Outbox
}

func (s *clientSession) send(frame any) {
	data, err := protocol.Encode(frame)
	if err != nil {
		slog.Error("ws client: encode error", "error", err)
		return
	}
	s.outbox.Send(data)
}

func (s *clientSession) sendError(code, message string) {
	s.send(protocol.Error{Type: protocol.TypeError, Code: code, Message: message})
}

func (h *ClientWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := vault.VerifyAccessToken(r.URL.Query().Get("token"), h.jwtSecret)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws client: upgrade error", "error", err)
		return
	}
	defer conn.Close()

	metrics.ClientConnections.Inc()
	defer metrics.ClientConnections.Dec()

	session := &clientSession{userID: claims.UserID, outbox: hub.NewOutbox()}
	go wsWriter(conn, session.outbox)
	defer session.outbox.Close()

	slog.Info("ws client: connected", "user_id", claims.UserID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				slog.Error("ws client: read error", "error", err)
			}
			break
		}
		h.dispatch(r.Context(), session, data)
	}

	if session.convID != "" {
		h.hub.RemoveClient(session.userID, session.convID, session.outbox)
	}
	slog.Info("ws client: disconnected", "user_id", claims.UserID)
}

// dispatch routes one inbound frame. Malformed JSON and unknown types are
// dropped without closing the connection.
func (h *ClientWS) dispatch(ctx context.Context, s *clientSession, data []byte) {
	frameType, err := protocol.Probe(data)
	if err != nil {
		slog.Debug("ws client: malformed frame dropped")
		return
	}

	switch frameType {
	case protocol.TypeJoinConversation:
		var frame protocol.JoinConversation
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		h.handleJoin(ctx, s, frame.ConversationID)
	case protocol.TypeUserMessage:
		var frame protocol.UserMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		h.handleUserMessage(ctx, s, &frame)
	case protocol.TypeEditMessage:
		var frame protocol.EditMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		h.handleEdit(ctx, s, &frame)
	case protocol.TypeRegenerate:
		var frame protocol.Regenerate
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		h.handleRegenerate(ctx, s, &frame)
	case protocol.TypeCancel:
		if s.convID != "" {
			frame, _ := protocol.Encode(protocol.Cancel{Type: protocol.TypeCancel})
			h.hub.SendToContainer(s.convID, frame)
		}
	case protocol.TypePing:
		s.send(protocol.Pong{Type: protocol.TypePong})
	default:
		slog.Debug("ws client: unknown frame dropped", "type", frameType)
	}
}

func (h *ClientWS) handleJoin(ctx context.Context, s *clientSession, convID string) {
	if _, err := h.store.GetConversation(ctx, convID, s.userID); err != nil {
		s.sendError(protocol.CodeNotFound, "conversation not found")
		return
	}

	if s.convID != "" && s.convID != convID {
		h.hub.RemoveClient(s.userID, s.convID, s.outbox)
	}
	h.hub.AddClient(s.userID, convID, s.outbox)
	s.convID = convID

	s.send(protocol.ConversationJoined{Type: protocol.TypeConversationJoined, ConversationID: convID})
}

func (h *ClientWS) handleUserMessage(ctx context.Context, s *clientSession, frame *protocol.UserMessage) {
	if s.convID == "" {
		s.sendError(protocol.CodeNoConversation, "join a conversation first")
		return
	}
	if strings.TrimSpace(frame.Content) == "" {
		s.sendError(protocol.CodeInvalidMessage, "content must not be empty")
		return
	}

	msg, err := h.chat.SaveUserMessage(ctx, s.convID, frame.Content)
	if err != nil {
		slog.Error("ws client: save message failed", "error", err)
		s.sendError(protocol.CodeInternalError, "failed to save message")
		return
	}

	s.send(protocol.MessageSaved{
		Type:           protocol.TypeMessageSaved,
		ConversationID: s.convID,
		MessageID:      msg.ID,
	})

	h.sendOrStart(s, protocol.UserMessage{
		Type:         protocol.TypeUserMessage,
		MessageID:    msg.ID,
		Content:      msg.Content,
		DeepThinking: frame.DeepThinking,
	})
}

func (h *ClientWS) handleEdit(ctx context.Context, s *clientSession, frame *protocol.EditMessage) {
	if s.convID == "" {
		s.sendError(protocol.CodeNoConversation, "join a conversation first")
		return
	}
	if strings.TrimSpace(frame.Content) == "" {
		s.sendError(protocol.CodeInvalidMessage, "content must not be empty")
		return
	}

	trunc, err := h.chat.EditMessage(ctx, s.convID, frame.MessageID, frame.Content)
	if err != nil {
		s.sendTruncationError(err)
		return
	}
	h.finishTruncation(ctx, s, trunc, true)
}

func (h *ClientWS) handleRegenerate(ctx context.Context, s *clientSession, frame *protocol.Regenerate) {
	if s.convID == "" {
		s.sendError(protocol.CodeNoConversation, "join a conversation first")
		return
	}

	trunc, err := h.chat.Regenerate(ctx, s.convID, frame.MessageID)
	if err != nil {
		s.sendTruncationError(err)
		return
	}
	h.finishTruncation(ctx, s, trunc, false)
}

func (s *clientSession) sendTruncationError(err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.sendError(protocol.CodeNotFound, "message not found")
	case errors.Is(err, domain.ErrInvalidMessage):
		s.sendError(protocol.CodeInvalidMessage, err.Error())
	default:
		slog.Error("ws client: truncation failed", "error", err)
		s.sendError(protocol.CodeInternalError, "operation failed")
	}
}

// finishTruncation emits the truncation notice, syncs the container's
// in-memory history, then resends the surviving user turn. All three writes
// issue from the reader task so the client observes them in order.
func (h *ClientWS) finishTruncation(ctx context.Context, s *clientSession, trunc *chat.Truncation, edited bool) {
	notice := protocol.MessagesTruncated{
		Type:           protocol.TypeMessagesTruncated,
		ConversationID: s.convID,
		AfterMessageID: trunc.AfterMessageID,
	}
	if edited {
		notice.UpdatedContent = trunc.Resend.Content
	}
	s.send(notice)

	if truncFrame, err := protocol.Encode(protocol.TruncateHistory{
		Type:      protocol.TypeTruncateHistory,
		KeepTurns: trunc.KeepTurns,
	}); err == nil {
		h.hub.SendToContainer(s.convID, truncFrame)
	}

	resend := protocol.UserMessage{
		Type:      protocol.TypeUserMessage,
		MessageID: trunc.Resend.ID,
		Content:   trunc.Resend.Content,
	}
	// The resend carries the conversation's reasoning mode, same as the
	// history-tail resend after a container restart.
	if conv, err := h.store.GetConversation(ctx, s.convID, s.userID); err == nil {
		resend.DeepThinking = conv.DeepThinking
	}
	h.sendOrStart(s, resend)
}

// sendOrStart delivers the payload to the live container, or stashes it as
// the pending message and boots a container in the background. The start is
// fire-and-forget: the container endpoint drains the pending box on ready.
func (h *ClientWS) sendOrStart(s *clientSession, payload protocol.UserMessage) {
	data, err := protocol.Encode(payload)
	if err != nil {
		slog.Error("ws client: encode error", "error", err)
		return
	}

	if h.hub.SendToContainer(s.convID, data) {
		h.orchestrator.Registry().Touch(s.convID)
		return
	}

	h.hub.SetPendingMessage(s.convID, data)
	s.send(protocol.ContainerStatus{
		Type:           protocol.TypeContainerStatus,
		ConversationID: s.convID,
		Status:         protocol.ContainerStarting,
	})

	convID, userID := s.convID, s.userID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if _, err := h.orchestrator.StartContainer(ctx, convID, userID); err != nil {
			slog.Error("ws client: container start failed", "conversation_id", convID, "error", err)
			frame, encErr := protocol.Encode(protocol.Error{
				Type:    protocol.TypeError,
				Code:    protocol.CodeContainerStartFailed,
				Message: err.Error(),
			})
			if encErr == nil {
				h.hub.SendToClient(userID, convID, frame)
			}
		}
	}()
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cruciblehq/crucible/internal/domain"
)

// CreateMessage inserts a message with a created_at strictly greater than any
// existing message in the conversation, so (created_at, id) is a total order
// even when wall clocks stall within a transaction.
func (s *Store) CreateMessage(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6,
			GREATEST(clock_timestamp(), COALESCE((
				SELECT MAX(created_at) + INTERVAL '1 microsecond'
				FROM messages
				WHERE conversation_id = $7
			), clock_timestamp())))
		RETURNING created_at`

	err := s.conn(ctx).QueryRow(ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.ToolCalls, msg.TokenCount,
		msg.ConversationID).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id, conversationID string) (*domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tool_calls, token_count, created_at
		FROM messages
		WHERE id = $1 AND conversation_id = $2`

	msg := &domain.Message{}
	err := s.conn(ctx).QueryRow(ctx, query, id, conversationID).Scan(
		&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.ToolCalls, &msg.TokenCount, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id, content string) error {
	result, err := s.conn(ctx).Exec(ctx,
		`UPDATE messages SET content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteMessagesAfter removes every message created after the given one and
// returns how many rows went away.
func (s *Store) DeleteMessagesAfter(ctx context.Context, conversationID, messageID string) (int64, error) {
	query := `
		DELETE FROM messages
		WHERE conversation_id = $1
		  AND created_at > (SELECT created_at FROM messages WHERE id = $2 AND conversation_id = $1)`

	result, err := s.conn(ctx).Exec(ctx, query, conversationID, messageID)
	if err != nil {
		return 0, fmt.Errorf("delete messages after: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tool_calls, token_count, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListRecentMessages returns the last limit messages in chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tool_calls, token_count, created_at
		FROM (
			SELECT id, conversation_id, role, content, tool_calls, token_count, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// CountUserMessagesBefore counts user-role messages created strictly before
// the given message. This is the keep_turns value for history truncation.
func (s *Store) CountUserMessagesBefore(ctx context.Context, conversationID, messageID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND role = 'user'
		  AND created_at < (SELECT created_at FROM messages WHERE id = $2 AND conversation_id = $1)`

	var count int
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, messageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count user messages before: %w", err)
	}
	return count, nil
}

// GetLastUserMessageBefore finds the most recent user-role message created
// strictly before the given one. Regenerate resends this message.
func (s *Store) GetLastUserMessageBefore(ctx context.Context, conversationID, messageID string) (*domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, tool_calls, token_count, created_at
		FROM messages
		WHERE conversation_id = $1
		  AND role = 'user'
		  AND created_at < (SELECT created_at FROM messages WHERE id = $2 AND conversation_id = $1)
		ORDER BY created_at DESC
		LIMIT 1`

	msg := &domain.Message{}
	err := s.conn(ctx).QueryRow(ctx, query, conversationID, messageID).Scan(
		&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.ToolCalls, &msg.TokenCount, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get last user message before: %w", err)
	}
	return msg, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.ToolCalls, &msg.TokenCount, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

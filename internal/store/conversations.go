package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cruciblehq/crucible/internal/domain"
)

const conversationColumns = `id, user_id, title, provider_name, model_name,
	image_provider, image_model, system_prompt, deep_thinking, share_token,
	created_at, updated_at`

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title, provider_name, model_name,
			image_provider, image_model, system_prompt, deep_thinking, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	_, err := s.conn(ctx).Exec(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.ProviderName, conv.ModelName,
		conv.ImageProvider, conv.ImageModel, conv.SystemPrompt, conv.DeepThinking,
		conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation only when it belongs to userID.
func (s *Store) GetConversation(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	conv := &domain.Conversation{}
	err := s.conn(ctx).QueryRow(ctx, query, id, userID).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.ProviderName, &conv.ModelName,
		&conv.ImageProvider, &conv.ImageModel, &conv.SystemPrompt, &conv.DeepThinking,
		&conv.ShareToken, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// GetConversationByShareToken looks a conversation up by its share token,
// ignoring ownership. Used by the unauthenticated share endpoint.
func (s *Store) GetConversationByShareToken(ctx context.Context, token string) (*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE share_token = $1 AND deleted_at IS NULL`

	conv := &domain.Conversation{}
	err := s.conn(ctx).QueryRow(ctx, query, token).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.ProviderName, &conv.ModelName,
		&conv.ImageProvider, &conv.ImageModel, &conv.SystemPrompt, &conv.DeepThinking,
		&conv.ShareToken, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation by share token: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*domain.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.conn(ctx).Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		if err := rows.Scan(
			&conv.ID, &conv.UserID, &conv.Title, &conv.ProviderName, &conv.ModelName,
			&conv.ImageProvider, &conv.ImageModel, &conv.SystemPrompt, &conv.DeepThinking,
			&conv.ShareToken, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// UpdateConversation writes the mutable settings fields and bumps updated_at.
func (s *Store) UpdateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
		UPDATE conversations
		SET title = $3, provider_name = $4, model_name = $5, image_provider = $6,
			image_model = $7, system_prompt = $8, deep_thinking = $9, updated_at = $10
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	result, err := s.conn(ctx).Exec(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.ProviderName, conv.ModelName,
		conv.ImageProvider, conv.ImageModel, conv.SystemPrompt, conv.DeepThinking,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, title, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id string) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *Store) SetConversationShareToken(ctx context.Context, id, userID string, token *string) error {
	result, err := s.conn(ctx).Exec(ctx,
		`UPDATE conversations SET share_token = $3 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID, token)
	if err != nil {
		return fmt.Errorf("set conversation share token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	result, err := s.conn(ctx).Exec(ctx,
		`UPDATE conversations SET deleted_at = $3 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

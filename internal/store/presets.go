package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cruciblehq/crucible/internal/domain"
)

func (s *Store) CreatePreset(ctx context.Context, p *domain.Preset) error {
	query := `
		INSERT INTO presets (id, user_id, name, provider_name, model_name,
			system_prompt, deep_thinking, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err := s.conn(ctx).Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.ProviderName, p.ModelName,
		p.SystemPrompt, p.DeepThinking, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create preset: %w", err)
	}
	return nil
}

func (s *Store) GetPreset(ctx context.Context, id, userID string) (*domain.Preset, error) {
	query := `
		SELECT id, user_id, name, provider_name, model_name, system_prompt, deep_thinking, created_at, updated_at
		FROM presets
		WHERE id = $1 AND user_id = $2`

	p := &domain.Preset{}
	err := s.conn(ctx).QueryRow(ctx, query, id, userID).Scan(
		&p.ID, &p.UserID, &p.Name, &p.ProviderName, &p.ModelName,
		&p.SystemPrompt, &p.DeepThinking, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get preset: %w", err)
	}
	return p, nil
}

func (s *Store) ListPresets(ctx context.Context, userID string) ([]*domain.Preset, error) {
	query := `
		SELECT id, user_id, name, provider_name, model_name, system_prompt, deep_thinking, created_at, updated_at
		FROM presets
		WHERE user_id = $1
		ORDER BY name ASC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	var presets []*domain.Preset
	for rows.Next() {
		p := &domain.Preset{}
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &p.ProviderName, &p.ModelName,
			&p.SystemPrompt, &p.DeepThinking, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

func (s *Store) UpdatePreset(ctx context.Context, p *domain.Preset) error {
	query := `
		UPDATE presets
		SET name = $3, provider_name = $4, model_name = $5, system_prompt = $6,
			deep_thinking = $7, updated_at = $8
		WHERE id = $1 AND user_id = $2`

	result, err := s.conn(ctx).Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.ProviderName, p.ModelName,
		p.SystemPrompt, p.DeepThinking, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("update preset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePreset(ctx context.Context, id, userID string) error {
	result, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM presets WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete preset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

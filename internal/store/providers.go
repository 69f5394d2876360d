package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cruciblehq/crucible/internal/domain"
)

const providerColumns = `id, user_id, name, kind, api_key_encrypted, endpoint_url,
	models, image_models, is_default, created_at, updated_at`

func (s *Store) CreateProvider(ctx context.Context, p *domain.Provider) error {
	query := `
		INSERT INTO providers (id, user_id, name, kind, api_key_encrypted, endpoint_url,
			models, image_models, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	_, err := s.conn(ctx).Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.Kind, p.APIKeyEncrypted, p.EndpointURL,
		p.Models, p.ImageModels, p.IsDefault, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

func (s *Store) GetProvider(ctx context.Context, id, userID string) (*domain.Provider, error) {
	query := `
		SELECT ` + providerColumns + `
		FROM providers
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	return s.scanProviderRow(s.conn(ctx).QueryRow(ctx, query, id, userID), "get provider")
}

// GetProviderByName resolves the provider a conversation references by name.
func (s *Store) GetProviderByName(ctx context.Context, userID, name string) (*domain.Provider, error) {
	query := `
		SELECT ` + providerColumns + `
		FROM providers
		WHERE user_id = $1 AND name = $2 AND deleted_at IS NULL`

	return s.scanProviderRow(s.conn(ctx).QueryRow(ctx, query, userID, name), "get provider by name")
}

func (s *Store) GetDefaultProvider(ctx context.Context, userID string) (*domain.Provider, error) {
	query := `
		SELECT ` + providerColumns + `
		FROM providers
		WHERE user_id = $1 AND is_default AND deleted_at IS NULL`

	return s.scanProviderRow(s.conn(ctx).QueryRow(ctx, query, userID), "get default provider")
}

func (s *Store) ListProviders(ctx context.Context, userID string) ([]*domain.Provider, error) {
	query := `
		SELECT ` + providerColumns + `
		FROM providers
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []*domain.Provider
	for rows.Next() {
		p := &domain.Provider{}
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &p.Kind, &p.APIKeyEncrypted, &p.EndpointURL,
			&p.Models, &p.ImageModels, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *Store) UpdateProvider(ctx context.Context, p *domain.Provider) error {
	query := `
		UPDATE providers
		SET name = $3, kind = $4, api_key_encrypted = $5, endpoint_url = $6,
			models = $7, image_models = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	result, err := s.conn(ctx).Exec(ctx, query,
		p.ID, p.UserID, p.Name, p.Kind, p.APIKeyEncrypted, p.EndpointURL,
		p.Models, p.ImageModels, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("update provider: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetDefaultProvider makes one provider the default and clears the flag on
// every other provider the user owns, in a single transaction.
func (s *Store) SetDefaultProvider(ctx context.Context, id, userID string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.conn(ctx).Exec(ctx,
			`UPDATE providers SET is_default = FALSE WHERE user_id = $1 AND deleted_at IS NULL`,
			userID)
		if err != nil {
			return fmt.Errorf("clear default provider: %w", err)
		}

		result, err := s.conn(ctx).Exec(ctx,
			`UPDATE providers SET is_default = TRUE WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
			id, userID)
		if err != nil {
			return fmt.Errorf("set default provider: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (s *Store) DeleteProvider(ctx context.Context, id, userID string) error {
	result, err := s.conn(ctx).Exec(ctx,
		`UPDATE providers SET deleted_at = $3 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) scanProviderRow(row pgx.Row, op string) (*domain.Provider, error) {
	p := &domain.Provider{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Kind, &p.APIKeyEncrypted, &p.EndpointURL,
		&p.Models, &p.ImageModels, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

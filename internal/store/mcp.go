package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cruciblehq/crucible/internal/domain"
)

func (s *Store) CreateMCPServer(ctx context.Context, m *domain.MCPServer) error {
	query := `
		INSERT INTO mcp_servers (id, conversation_id, name, transport, command, args, url, env, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.conn(ctx).Exec(ctx, query,
		m.ID, m.ConversationID, m.Name, m.Transport, m.Command, m.Args, m.URL, m.Env, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}
	return nil
}

func (s *Store) GetMCPServer(ctx context.Context, id, conversationID string) (*domain.MCPServer, error) {
	query := `
		SELECT id, conversation_id, name, transport, command, args, url, env, created_at
		FROM mcp_servers
		WHERE id = $1 AND conversation_id = $2`

	m := &domain.MCPServer{}
	err := s.conn(ctx).QueryRow(ctx, query, id, conversationID).Scan(
		&m.ID, &m.ConversationID, &m.Name, &m.Transport, &m.Command, &m.Args, &m.URL, &m.Env, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get mcp server: %w", err)
	}
	return m, nil
}

// ListMCPServers returns the servers attached to a conversation, in the order
// they were attached. These ride along in every container init frame.
func (s *Store) ListMCPServers(ctx context.Context, conversationID string) ([]*domain.MCPServer, error) {
	query := `
		SELECT id, conversation_id, name, transport, command, args, url, env, created_at
		FROM mcp_servers
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var servers []*domain.MCPServer
	for rows.Next() {
		m := &domain.MCPServer{}
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Name, &m.Transport, &m.Command,
			&m.Args, &m.URL, &m.Env, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mcp server: %w", err)
		}
		servers = append(servers, m)
	}
	return servers, rows.Err()
}

func (s *Store) DeleteMCPServer(ctx context.Context, id, conversationID string) error {
	result, err := s.conn(ctx).Exec(ctx,
		`DELETE FROM mcp_servers WHERE id = $1 AND conversation_id = $2`, id, conversationID)
	if err != nil {
		return fmt.Errorf("delete mcp server: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

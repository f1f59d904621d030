package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tf2pug/internal/domain"

	"github.com/rs/zerolog"
)

type ServerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewServerRepository(sqlDB *sql.DB, logger zerolog.Logger) *ServerRepository {
	return &ServerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *ServerRepository) ListServers(ctx context.Context, tenant string) ([]domain.Server, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant, host, port, rcon_password, password, pug_id, created_at, updated_at
		FROM servers WHERE tenant = ? ORDER BY id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		var s domain.Server
		err := rows.Scan(&s.ID, &s.Tenant, &s.Host, &s.Port, &s.RconPassword, &s.Password, &s.PugID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// AddServer registers a server, or moves an existing host:port to the
// tenant with the new password.
func (r *ServerRepository) AddServer(ctx context.Context, s domain.Server) (int64, error) {
	now := time.Now().UTC()

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO servers (tenant, host, port, rcon_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(host, port) DO UPDATE SET
			tenant = excluded.tenant,
			rcon_password = excluded.rcon_password,
			updated_at = excluded.updated_at
		RETURNING id`,
		s.Tenant, s.Host, s.Port, s.RconPassword, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add server %s: %w", s.Address(), err)
	}

	r.logger.Info().Str("server", s.Address()).Str("tenant", s.Tenant).Int64("server_id", id).Msg("server registered")
	return id, nil
}

// UpdateServer persists the pug binding of a server.
func (r *ServerRepository) UpdateServer(ctx context.Context, s domain.Server) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE servers SET password = ?, pug_id = ?, updated_at = ? WHERE id = ?`,
		s.Password, s.PugID, time.Now().UTC(), s.ID)
	if err != nil {
		return fmt.Errorf("failed to update server %d: %w", s.ID, err)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tf2pug/internal/domain"

	"github.com/rs/zerolog"
)

type TenantRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewTenantRepository(sqlDB *sql.DB, logger zerolog.Logger) *TenantRepository {
	return &TenantRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *TenantRepository) List(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, name, created_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.Key, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Upsert creates the tenant or renames an existing one.
func (r *TenantRepository) Upsert(ctx context.Context, t domain.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (key, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET name = excluded.name`,
		t.Key, t.Name, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return nil
}

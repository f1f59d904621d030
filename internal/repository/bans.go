package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tf2pug/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type BanRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewBanRepository(sqlDB *sql.DB, logger zerolog.Logger) *BanRepository {
	return &BanRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *BanRepository) Insert(ctx context.Context, ban *domain.Ban) error {
	if ban.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		ban.ID = id
	}
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bans (id, player_id, name, banner_id, banner_name, reason, duration_seconds, expired, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ban.ID, ban.PlayerID, ban.Name, ban.BannerID, ban.BannerName, ban.Reason,
		int64(ban.Duration/time.Second), ban.Expired, ban.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ban: %w", err)
	}
	return nil
}

// Latest returns the newest unexpired ban row of a player. The caller decides
// whether its duration has run out.
func (r *BanRepository) Latest(ctx context.Context, playerID int64) (*domain.Ban, error) {
	var (
		ban     domain.Ban
		seconds int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, player_id, name, banner_id, banner_name, reason, duration_seconds, expired, created_at
		FROM bans WHERE player_id = ? AND expired = 0
		ORDER BY created_at DESC LIMIT 1`, playerID).
		Scan(&ban.ID, &ban.PlayerID, &ban.Name, &ban.BannerID, &ban.BannerName, &ban.Reason, &seconds, &ban.Expired, &ban.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ban: %w", err)
	}

	ban.Duration = time.Duration(seconds) * time.Second
	return &ban, nil
}

// Expire marks every ban of a player as expired.
func (r *BanRepository) Expire(ctx context.Context, playerID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE bans SET expired = 1 WHERE player_id = ? AND expired = 0`, playerID)
	if err != nil {
		return 0, fmt.Errorf("failed to expire bans: %w", err)
	}
	return res.RowsAffected()
}

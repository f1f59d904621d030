package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tf2pug/internal/pug"

	"github.com/rs/zerolog"
)

type StatsRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStatsRepository(sqlDB *sql.DB, logger zerolog.Logger) *StatsRepository {
	return &StatsRepository{
		db:     sqlDB,
		logger: logger,
	}
}

const statsColumns = `player_id, games_played, games_since_medic, rating, kills, deaths, assists, wins, losses, draws, winstreak`

func scanStats(row interface{ Scan(...any) error }) (pug.PlayerID, pug.PlayerStats, error) {
	var (
		id pug.PlayerID
		s  pug.PlayerStats
	)
	err := row.Scan(&id, &s.GamesPlayed, &s.GamesSinceMedic, &s.Rating, &s.Kills, &s.Deaths, &s.Assists, &s.Wins, &s.Losses, &s.Draws, &s.WinStreak)
	return id, s, err
}

// LoadPlayerStats returns stats for every id. Players never seen before get
// fresh stats.
func (r *StatsRepository) LoadPlayerStats(ctx context.Context, ids []pug.PlayerID) (map[pug.PlayerID]pug.PlayerStats, error) {
	out := make(map[pug.PlayerID]pug.PlayerStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
		out[id] = pug.NewPlayerStats()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := r.db.QueryContext(ctx, `SELECT `+statsColumns+` FROM player_stats WHERE player_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load player stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		id, s, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan player stats: %w", err)
		}
		out[id] = s
	}
	return out, rows.Err()
}

func (r *StatsRepository) PlayerStats(ctx context.Context, id pug.PlayerID) (pug.PlayerStats, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+statsColumns+` FROM player_stats WHERE player_id = ?`, int64(id))
	_, s, err := scanStats(row)
	if err == sql.ErrNoRows {
		return pug.PlayerStats{}, false, nil
	}
	if err != nil {
		return pug.PlayerStats{}, false, fmt.Errorf("failed to get player stats: %w", err)
	}
	return s, true, nil
}

func (r *StatsRepository) SavePlayerStats(ctx context.Context, stats map[pug.PlayerID]pug.PlayerStats) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO player_stats (`+statsColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			games_played = excluded.games_played,
			games_since_medic = excluded.games_since_medic,
			rating = excluded.rating,
			kills = excluded.kills,
			deaths = excluded.deaths,
			assists = excluded.assists,
			wins = excluded.wins,
			losses = excluded.losses,
			draws = excluded.draws,
			winstreak = excluded.winstreak,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare stats upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for id, s := range stats {
		_, err := stmt.ExecContext(ctx, int64(id), s.GamesPlayed, s.GamesSinceMedic, s.Rating.Float64(),
			s.Kills, s.Deaths, s.Assists, s.Wins, s.Losses, s.Draws, s.WinStreak, now)
		if err != nil {
			return fmt.Errorf("failed to save stats for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats: %w", err)
	}
	r.logger.Debug().Int("players", len(stats)).Msg("player stats saved")
	return nil
}

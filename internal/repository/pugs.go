package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tf2pug/internal/pug"

	"github.com/rs/zerolog"
)

// PugRepository stores each pug as an encoded document. Only unfinished pugs
// are loaded back.
type PugRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPugRepository(sqlDB *sql.DB, logger zerolog.Logger) *PugRepository {
	return &PugRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *PugRepository) LoadPugs(ctx context.Context, tenant string) ([]*pug.Pug, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data FROM pugs WHERE tenant = ? AND finished = 0 ORDER BY id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to load pugs: %w", err)
	}
	defer rows.Close()

	var pugs []*pug.Pug
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan pug: %w", err)
		}

		p, err := pug.Decode(data)
		if err != nil {
			r.logger.Error().Err(err).Int64("pug_id", id).Msg("skipping undecodable pug")
			continue
		}
		p.ID = id
		pugs = append(pugs, p)
	}
	return pugs, rows.Err()
}

// SavePug inserts p on first save, assigning its ID, and overwrites it after.
func (r *PugRepository) SavePug(ctx context.Context, tenant string, p *pug.Pug) error {
	now := time.Now().UTC()

	if p.ID != 0 {
		data, err := p.Encode()
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, `UPDATE pugs SET data = ?, updated_at = ? WHERE id = ?`, data, now, p.ID); err != nil {
			return fmt.Errorf("failed to save pug %d: %w", p.ID, err)
		}
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pugs (tenant, data, created_at, updated_at) VALUES (?, '{}', ?, ?)`,
		tenant, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert pug: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read pug id: %w", err)
	}

	p.ID = id
	data, err := p.Encode()
	if err != nil {
		p.ID = 0
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE pugs SET data = ? WHERE id = ?`, data, id); err != nil {
		p.ID = 0
		return fmt.Errorf("failed to save pug %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		p.ID = 0
		return fmt.Errorf("failed to commit pug: %w", err)
	}
	return nil
}

func (r *PugRepository) FinishPug(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE pugs SET finished = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish pug %d: %w", id, err)
	}
	return nil
}

// DeletePug removes a pug that never got a working server.
func (r *PugRepository) DeletePug(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pugs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pug %d: %w", id, err)
	}
	return nil
}

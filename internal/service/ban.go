package service

import (
	"context"
	"fmt"
	"time"

	"tf2pug/internal/constants"
	"tf2pug/internal/domain"
	"tf2pug/internal/pug"
	"tf2pug/internal/repository"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

type BanRepository interface {
	Insert(ctx context.Context, ban *domain.Ban) error
	Latest(ctx context.Context, playerID int64) (*domain.Ban, error)
	Expire(ctx context.Context, playerID int64) (int64, error)
}

// BanService answers ban lookups from a short-lived cache. Misses are cached
// too, as a nil ban.
type BanService struct {
	repo   BanRepository
	cache  *cache.Cache
	logger zerolog.Logger
	now    func() time.Time
}

func NewBanService(repo *repository.BanRepository, logger zerolog.Logger) *BanService {
	return newBanService(repo, logger)
}

func newBanService(repo BanRepository, logger zerolog.Logger) *BanService {
	return &BanService{
		repo:   repo,
		cache:  cache.New(constants.BanCacheTTL, constants.BanCacheCleanup),
		logger: logger.With().Str("component", "bans").Logger(),
		now:    time.Now,
	}
}

// PlayerBan returns the ban currently applying to id, if any. Bans whose
// duration has run out are treated as absent.
func (s *BanService) PlayerBan(ctx context.Context, id pug.PlayerID) (*domain.Ban, bool, error) {
	key := id.String()

	var ban *domain.Ban
	if cached, ok := s.cache.Get(key); ok {
		ban = cached.(*domain.Ban)
	} else {
		var err error
		ban, err = s.repo.Latest(ctx, int64(id))
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up ban: %w", err)
		}
		s.cache.Set(key, ban, cache.DefaultExpiration)
	}

	if ban == nil || !ban.Active(s.now()) {
		return nil, false, nil
	}
	return ban, true, nil
}

func (s *BanService) AddBan(ctx context.Context, ban domain.Ban) (*domain.Ban, error) {
	if ban.PlayerID <= 0 {
		return nil, fmt.Errorf("invalid player id %d", ban.PlayerID)
	}
	if err := s.repo.Insert(ctx, &ban); err != nil {
		return nil, err
	}

	s.cache.Set(pug.PlayerID(ban.PlayerID).String(), &ban, cache.DefaultExpiration)
	s.logger.Info().
		Int64("player", ban.PlayerID).
		Int64("banner", ban.BannerID).
		Str("reason", ban.Reason).
		Dur("duration", ban.Duration).
		Msg("player banned")
	return &ban, nil
}

// Expire lifts every ban of a player.
func (s *BanService) Expire(ctx context.Context, id pug.PlayerID) error {
	n, err := s.repo.Expire(ctx, int64(id))
	if err != nil {
		return err
	}

	s.cache.Delete(id.String())
	s.logger.Info().Str("player", id.String()).Int64("bans", n).Msg("bans expired")
	return nil
}

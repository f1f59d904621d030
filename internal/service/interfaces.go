package service

import (
	"context"

	"tf2pug/internal/domain"
	"tf2pug/internal/gameserver"
	"tf2pug/internal/pug"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

// ServerAllocator hands out game servers and drives them through a pug. The
// calls that talk to a server may block for up to ServerCommandTimeout.
type ServerAllocator interface {
	Allocate(ctx context.Context, p *pug.Pug) (*gameserver.Server, error)
	Release(s *gameserver.Server)
	Bind(ctx context.Context, s *gameserver.Server, p *pug.Pug) error
	Prepare(ctx context.Context, s *gameserver.Server) error
	Rebind(ctx context.Context, s *gameserver.Server, p *pug.Pug) error
	ChangeMap(ctx context.Context, s *gameserver.Server, p *pug.Pug) error
	Reset(ctx context.Context, s *gameserver.Server) error
	Get(id int64) (*gameserver.Server, bool)
	Bound(id, pugID int64) (*gameserver.Server, bool)
	Say(ctx context.Context, s *gameserver.Server, msg string) error
	Kick(ctx context.Context, s *gameserver.Server, sid steamid.SteamID, reason string) error
	Exec(ctx context.Context, s *gameserver.Server, cmd string) (string, error)
}

type BanChecker interface {
	PlayerBan(ctx context.Context, id pug.PlayerID) (*domain.Ban, bool, error)
}

type PugStore interface {
	LoadPugs(ctx context.Context, tenant string) ([]*pug.Pug, error)
	SavePug(ctx context.Context, tenant string, p *pug.Pug) error
	FinishPug(ctx context.Context, id int64) error
	DeletePug(ctx context.Context, id int64) error
}

type StatsStore interface {
	LoadPlayerStats(ctx context.Context, ids []pug.PlayerID) (map[pug.PlayerID]pug.PlayerStats, error)
	SavePlayerStats(ctx context.Context, stats map[pug.PlayerID]pug.PlayerStats) error
}

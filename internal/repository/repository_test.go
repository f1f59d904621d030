package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"tf2pug/internal/database"
	"tf2pug/internal/domain"
	"tf2pug/internal/pug"
	"tf2pug/internal/rating"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tenants := NewTenantRepository(db, zerolog.Nop())
	require.NoError(t, tenants.Upsert(context.Background(), domain.Tenant{Key: "key", Name: "test"}))
	return db
}

func TestTenantRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewTenantRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Tenant{Key: "key", Name: "renamed"}))
	require.NoError(t, repo.Upsert(ctx, domain.Tenant{Key: "other", Name: "other"}))

	tenants, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, "renamed", tenants[0].Name)
}

func TestServerRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewServerRepository(db, zerolog.Nop())
	ctx := context.Background()

	id, err := repo.AddServer(ctx, domain.Server{Tenant: "key", Host: "10.0.0.2", Port: 27015, RconPassword: "a"})
	require.NoError(t, err)

	again, err := repo.AddServer(ctx, domain.Server{Tenant: "key", Host: "10.0.0.2", Port: 27015, RconPassword: "b"})
	require.NoError(t, err)
	assert.Equal(t, id, again)

	require.NoError(t, repo.UpdateServer(ctx, domain.Server{ID: id, Password: "join", PugID: 9}))

	servers, err := repo.ListServers(ctx, "key")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "b", servers[0].RconPassword)
	assert.Equal(t, "join", servers[0].Password)
	assert.Equal(t, int64(9), servers[0].PugID)

	servers, err = repo.ListServers(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestPugRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewPugRepository(db, zerolog.Nop())
	ctx := context.Background()

	p, err := pug.New(pug.Options{Size: 4, Maps: []string{"cp_granary"}}, time.Now())
	require.NoError(t, err)
	p.AddPlayer(1, "one", pug.NewPlayerStats())

	require.NoError(t, repo.SavePug(ctx, "key", p))
	require.NotZero(t, p.ID)
	firstID := p.ID

	p.AddPlayer(2, "two", pug.NewPlayerStats())
	require.NoError(t, repo.SavePug(ctx, "key", p))
	assert.Equal(t, firstID, p.ID)

	other, err := pug.New(pug.Options{Size: 4, Maps: []string{"cp_granary"}}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.SavePug(ctx, "key", other))
	assert.Greater(t, other.ID, firstID)

	loaded, err := repo.LoadPugs(ctx, "key")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, firstID, loaded[0].ID)
	assert.Equal(t, 2, loaded[0].PlayerCount())
	assert.Equal(t, pug.PlayerID(1), loaded[0].Admin)

	require.NoError(t, repo.FinishPug(ctx, firstID))
	loaded, err = repo.LoadPugs(ctx, "key")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, other.ID, loaded[0].ID)

	require.NoError(t, repo.DeletePug(ctx, other.ID))
	loaded, err = repo.LoadPugs(ctx, "key")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStatsRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewStatsRepository(db, zerolog.Nop())
	ctx := context.Background()

	stats, err := repo.LoadPlayerStats(ctx, []pug.PlayerID{1, 2})
	require.NoError(t, err)
	assert.Equal(t, pug.NewPlayerStats(), stats[1])

	s := pug.NewPlayerStats()
	s.Rating = rating.Rating(1512.5)
	s.GamesPlayed = 3
	s.WinStreak = 2
	require.NoError(t, repo.SavePlayerStats(ctx, map[pug.PlayerID]pug.PlayerStats{1: s}))

	stats, err = repo.LoadPlayerStats(ctx, []pug.PlayerID{1, 2})
	require.NoError(t, err)
	assert.Equal(t, s, stats[1])
	assert.Equal(t, pug.NewPlayerStats(), stats[2])

	got, ok, err := repo.PlayerStats(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.GamesPlayed)

	_, ok, err = repo.PlayerStats(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBanRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewBanRepository(db, zerolog.Nop())
	ctx := context.Background()

	ban, err := repo.Latest(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, ban)

	inserted := &domain.Ban{PlayerID: 5, Name: "cheater", Reason: "aimbot", Duration: time.Hour}
	require.NoError(t, repo.Insert(ctx, inserted))
	assert.NotEmpty(t, inserted.ID)

	ban, err = repo.Latest(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, inserted.ID, ban.ID)
	assert.Equal(t, time.Hour, ban.Duration)
	assert.True(t, ban.Active(time.Now()))

	n, err := repo.Expire(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ban, err = repo.Latest(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, ban)
}

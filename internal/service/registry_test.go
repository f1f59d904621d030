package service

import (
	"context"
	"path/filepath"
	"testing"

	"tf2pug/internal/config"
	"tf2pug/internal/constants"
	"tf2pug/internal/database"
	"tf2pug/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BootstrapAndStop(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "registry.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	cfg := &config.Config{
		LogAddress:       "127.0.0.1",
		LogListenHost:    "127.0.0.1",
		Maps:             constants.DefaultMaps,
		DefaultSize:      constants.DefaultPugSize,
		BootstrapKey:     "tenant",
		BootstrapServers: []string{"127.0.0.1:27015:pw", "127.0.0.1:27016:pw"},
	}
	servers := repository.NewServerRepository(db, log)
	reg := NewRegistry(
		cfg,
		repository.NewTenantRepository(db, log),
		servers,
		repository.NewPugRepository(db, log),
		repository.NewStatsRepository(db, log),
		NewBanService(repository.NewBanRepository(db, log), log),
		log,
	)

	ctx := context.Background()
	require.NoError(t, reg.Start(ctx))

	m, ok := reg.Manager("tenant")
	require.True(t, ok)
	assert.Equal(t, "tenant", m.Tenant())
	assert.Empty(t, m.List())
	assert.Len(t, reg.tenants["tenant"].servers.Servers(), 2)

	_, ok = reg.Manager("unknown")
	assert.False(t, ok)

	require.NoError(t, reg.Stop(ctx))

	// bootstrapping again must not duplicate servers
	again := NewRegistry(cfg, repository.NewTenantRepository(db, log), servers,
		repository.NewPugRepository(db, log), repository.NewStatsRepository(db, log),
		NewBanService(repository.NewBanRepository(db, log), log), log)
	require.NoError(t, again.Start(ctx))
	rows, err := servers.ListServers(ctx, "tenant")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	require.NoError(t, again.Stop(ctx))
}

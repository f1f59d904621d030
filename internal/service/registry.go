package service

import (
	"context"
	"fmt"
	"sync"

	"tf2pug/internal/config"
	"tf2pug/internal/domain"
	"tf2pug/internal/gameserver"
	"tf2pug/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type tenant struct {
	pugs    *PugManager
	servers *gameserver.Manager
}

// Registry holds a PugManager per tenant, keyed by API key.
type Registry struct {
	cfg        *config.Config
	tenantRepo *repository.TenantRepository
	serverRepo *repository.ServerRepository
	pugRepo    *repository.PugRepository
	statsRepo  *repository.StatsRepository
	bans       *BanService
	logger     zerolog.Logger

	mu      sync.RWMutex
	tenants map[string]*tenant
	wg      sync.WaitGroup
}

func NewRegistry(
	cfg *config.Config,
	tenantRepo *repository.TenantRepository,
	serverRepo *repository.ServerRepository,
	pugRepo *repository.PugRepository,
	statsRepo *repository.StatsRepository,
	bans *BanService,
	logger zerolog.Logger,
) *Registry {
	return &Registry{
		cfg:        cfg,
		tenantRepo: tenantRepo,
		serverRepo: serverRepo,
		pugRepo:    pugRepo,
		statsRepo:  statsRepo,
		bans:       bans,
		logger:     logger.With().Str("component", "registry").Logger(),
		tenants:    make(map[string]*tenant),
	}
}

// Start seeds the bootstrap tenant, loads every tenant in parallel and starts
// their schedulers. The schedulers run until Stop.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	rows, err := r.tenantRepo.List(ctx)
	if err != nil {
		return err
	}

	loaded := make([]*tenant, len(rows))
	g, gCtx := errgroup.WithContext(ctx)
	for i, row := range rows {
		g.Go(func() error {
			t, err := r.load(gCtx, row)
			if err != nil {
				return fmt.Errorf("failed to load tenant %s: %w", row.Name, err)
			}
			loaded[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	for i, row := range rows {
		r.tenants[row.Key] = loaded[i]
	}
	r.mu.Unlock()

	for _, t := range loaded {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			t.pugs.Run(context.Background())
		}()
	}

	r.logger.Info().Int("tenants", len(loaded)).Msg("tenants started")
	return nil
}

func (r *Registry) load(ctx context.Context, row domain.Tenant) (*tenant, error) {
	log := r.logger.With().Str("tenant", row.Name).Logger()

	servers := gameserver.NewManager(row.Key, gameserver.Options{
		LogAddress: r.cfg.LogAddress,
		ListenHost: r.cfg.LogListenHost,
		PortMin:    r.cfg.LogPortMin,
		PortMax:    r.cfg.LogPortMax,
	}, r.serverRepo, log)
	if err := servers.Load(ctx); err != nil {
		return nil, err
	}
	if err := servers.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("server unreachable at startup")
	}

	pugs := NewPugManager(row.Key, ManagerOptions{
		Maps:        r.cfg.Maps,
		DefaultSize: r.cfg.DefaultSize,
	}, servers, r.bans, r.pugRepo, r.statsRepo, log)
	servers.SetEventHandler(pugs.HandleEvent)

	if err := pugs.Load(ctx); err != nil {
		return nil, err
	}
	return &tenant{pugs: pugs, servers: servers}, nil
}

// bootstrap creates the tenant and servers named in the configuration.
func (r *Registry) bootstrap(ctx context.Context) error {
	if len(r.cfg.BootstrapServers) == 0 && r.cfg.BootstrapKey == "" {
		return nil
	}

	key := r.cfg.BootstrapKey
	if key == "" {
		key = uuid.NewString()
		r.logger.Warn().Str("key", key).Msg("no bootstrap key configured, generated one")
	}
	if err := r.tenantRepo.Upsert(ctx, domain.Tenant{Key: key, Name: "default"}); err != nil {
		return err
	}

	for _, entry := range r.cfg.BootstrapServers {
		e, err := config.ParseServerEntry(entry)
		if err != nil {
			return err
		}
		_, err = r.serverRepo.AddServer(ctx, domain.Server{
			Tenant:       key,
			Host:         e.Host,
			Port:         e.Port,
			RconPassword: e.RconPassword,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Manager(key string) (*PugManager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[key]
	if !ok {
		return nil, false
	}
	return t.pugs, true
}

// Stop halts every scheduler and closes server connections. Servers keep
// their pugs so they can be reattached on the next start.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.RLock()
	tenants := make([]*tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		tenants = append(tenants, t)
	}
	r.mu.RUnlock()

	for _, t := range tenants {
		t.pugs.Stop()
	}
	r.wg.Wait()

	g, gCtx := errgroup.WithContext(ctx)
	for _, t := range tenants {
		g.Go(func() error {
			return t.servers.Close(gCtx)
		})
	}
	err := g.Wait()

	r.logger.Info().Msg("tenants stopped")
	return err
}

package server

import (
	"context"
	"net/http"

	"tf2pug/internal/api"
	"tf2pug/internal/domain"
	"tf2pug/internal/middleware"
	"tf2pug/internal/pug"
	"tf2pug/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PugService is the per-tenant surface of service.PugManager used by the API.
type PugService interface {
	CreatePug(ctx context.Context, req service.CreateRequest) (*pug.Pug, error)
	AddPlayer(ctx context.Context, pugID int64, id pug.PlayerID, name string) (*pug.Pug, error)
	RemovePlayer(ctx context.Context, id pug.PlayerID) (*pug.Pug, error)
	VoteMap(ctx context.Context, pugID int64, id pug.PlayerID, mapName string) (*pug.Pug, error)
	ForceMap(ctx context.Context, pugID int64, mapName string) (*pug.Pug, error)
	EndPug(ctx context.Context, pugID int64) error
	Pug(id int64) (*pug.Pug, bool)
	List() []*pug.Pug
	PlayerPug(id pug.PlayerID) (*pug.Pug, bool)
}

type BanService interface {
	PlayerBan(ctx context.Context, id pug.PlayerID) (*domain.Ban, bool, error)
	AddBan(ctx context.Context, ban domain.Ban) (*domain.Ban, error)
	Expire(ctx context.Context, id pug.PlayerID) error
}

type StatsReader interface {
	PlayerStats(ctx context.Context, id pug.PlayerID) (pug.PlayerStats, bool, error)
}

type Livelogs interface {
	Enabled() bool
	GetLiveLogs(ctx context.Context) (*api.LiveLogsResponse, error)
	GetPlayerStats(ctx context.Context, ids []pug.PlayerID) (*api.PlayerStatsResponse, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// TenantLookup resolves an API key to the tenant's pug service.
type TenantLookup func(key string) (PugService, bool)

type PugServer struct {
	tenants  TenantLookup
	bans     BanService
	stats    StatsReader
	livelogs Livelogs
	db       Pinger
	logger   zerolog.Logger
}

func NewPugServer(
	tenants TenantLookup,
	bans BanService,
	stats StatsReader,
	livelogs Livelogs,
	db Pinger,
	logger zerolog.Logger,
) *PugServer {
	return &PugServer{
		tenants:  tenants,
		bans:     bans,
		stats:    stats,
		livelogs: livelogs,
		db:       db,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// RegistryLookup adapts a Registry to a TenantLookup.
func RegistryLookup(r *service.Registry) TenantLookup {
	return func(key string) (PugService, bool) {
		m, ok := r.Manager(key)
		if !ok {
			return nil, false
		}
		return m, true
	}
}

func (s *PugServer) Router() *mux.Router {
	router := mux.NewRouter()

	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(s.handleHealth)
	router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.Handler())

	authed := router.PathPrefix("/").Subrouter()
	authed.Use(middleware.APIKey(func(key string) bool {
		_, ok := s.tenants(key)
		return ok
	}))

	authed.Path("/pugs").Methods(http.MethodGet).HandlerFunc(s.handleListPugs)
	authed.Path("/pugs").Methods(http.MethodPost).HandlerFunc(s.handleCreatePug)
	authed.Path("/pugs/{id:[0-9]+}").Methods(http.MethodGet).HandlerFunc(s.handleGetPug)
	authed.Path("/pugs/{id:[0-9]+}/end").Methods(http.MethodPost).HandlerFunc(s.handleEndPug)
	authed.Path("/pugs/{id:[0-9]+}/players").Methods(http.MethodPost).HandlerFunc(s.handleAddPlayer)
	authed.Path("/pugs/{id:[0-9]+}/votes").Methods(http.MethodPost).HandlerFunc(s.handleVote)
	authed.Path("/pugs/{id:[0-9]+}/map").Methods(http.MethodPost).HandlerFunc(s.handleForceMap)

	authed.Path("/players/{player}").Methods(http.MethodDelete).HandlerFunc(s.handleRemovePlayer)
	authed.Path("/players/{player}/pug").Methods(http.MethodGet).HandlerFunc(s.handlePlayerPug)
	authed.Path("/players/{player}/stats").Methods(http.MethodGet).HandlerFunc(s.handlePlayerStats)

	authed.Path("/bans").Methods(http.MethodPost).HandlerFunc(s.handleAddBan)
	authed.Path("/bans/{player}").Methods(http.MethodGet).HandlerFunc(s.handleGetBan)
	authed.Path("/bans/{player}").Methods(http.MethodDelete).HandlerFunc(s.handleExpireBan)

	authed.Path("/live").Methods(http.MethodGet).HandlerFunc(s.handleLive)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("unmatched request")
		writeError(w, http.StatusNotFound, "route_not_found", "no such route")
	})
	return router
}

// manager returns the pug service of the tenant that authenticated r.
func (s *PugServer) manager(r *http.Request) PugService {
	m, _ := s.tenants(middleware.GetAPIKey(r.Context()))
	return m
}

func (s *PugServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unhealthy", "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"tf2pug/internal/constants"
	"tf2pug/internal/gameserver"
	"tf2pug/internal/metrics"
	"tf2pug/internal/pug"
	"tf2pug/internal/rating"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type ManagerOptions struct {
	Maps        []string
	DefaultSize int
}

type CreateRequest struct {
	PlayerID          pug.PlayerID
	Name              string
	Size              int
	Map               string
	CustomID          string
	RatingRestriction *rating.Rating
}

// PugManager runs the pugs of one tenant. Every mutation happens under mu.
// Server commands run on queue, never under mu: a server's log listener calls
// HandleEvent, which needs mu.
type PugManager struct {
	tenant  string
	opts    ManagerOptions
	servers ServerAllocator
	bans    BanChecker
	pugs    PugStore
	stats   StatsStore
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	active []*pug.Pug
	queue  *serverQueue

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewPugManager(
	tenant string,
	opts ManagerOptions,
	servers ServerAllocator,
	bans BanChecker,
	pugs PugStore,
	stats StatsStore,
	logger zerolog.Logger,
) *PugManager {
	if opts.DefaultSize == 0 {
		opts.DefaultSize = constants.DefaultPugSize
	}
	if len(opts.Maps) == 0 {
		opts.Maps = constants.DefaultMaps
	}

	return &PugManager{
		tenant:  tenant,
		opts:    opts,
		servers: servers,
		bans:    bans,
		pugs:    pugs,
		stats:   stats,
		logger:  logger.With().Str("component", "pugs").Str("tenant", tenant).Logger(),
		now:     time.Now,
		queue:   newServerQueue(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *PugManager) Tenant() string {
	return m.tenant
}

func (m *PugManager) pugLogger(p *pug.Pug) zerolog.Logger {
	return m.logger.With().Int64("pug_id", p.ID).Logger()
}

// Load restores the unfinished pugs of the tenant and reattaches them to
// their servers. Pugs whose server is gone, or that are too old, are ended.
func (m *PugManager) Load(ctx context.Context) error {
	pugs, err := m.pugs.LoadPugs(ctx, m.tenant)
	if err != nil {
		return fmt.Errorf("failed to load pugs: %w", err)
	}

	type rebind struct {
		p   *pug.Pug
		s   *gameserver.Server
		err error
	}

	var restore []*rebind
	m.mu.Lock()
	now := m.now()
	for _, p := range pugs {
		m.active = append(m.active, p)

		s, ok := m.servers.Get(p.ServerID)
		switch {
		case !ok:
			log := m.pugLogger(p)
			log.Warn().Int64("server_id", p.ServerID).Msg("server of loaded pug is missing")
			m.endPug(ctx, p, "server missing")
		case now.Sub(p.CreatedAt) >= constants.StalePugAge:
			m.endPug(ctx, p, "stale")
		default:
			restore = append(restore, &rebind{p: p, s: s})
		}
	}
	m.updateActive()
	m.mu.Unlock()

	var g errgroup.Group
	for _, r := range restore {
		g.Go(func() error {
			m.queue.do(r.s.ID, func() {
				sctx, cancel := serverContext(ctx)
				defer cancel()
				r.err = m.servers.Rebind(sctx, r.s, r.p)
			})
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range restore {
		log := m.pugLogger(r.p)
		if r.err != nil {
			log.Error().Err(r.err).Msg("failed to reattach server")
			if m.find(r.p.ID) == r.p {
				m.endPug(ctx, r.p, "server unreachable")
			}
			continue
		}
		log.Info().Str("state", r.p.State.String()).Msg("pug restored")
	}
	return nil
}

func (m *PugManager) CreatePug(ctx context.Context, req CreateRequest) (*pug.Pug, error) {
	p, err := m.createPug(ctx, req)
	metrics.Admissions.WithLabelValues(admissionResult(err)).Inc()
	return p, err
}

// createPug opens the pug under mu, prepares its server outside it and then
// publishes the result. A pug whose server cannot be prepared is ended and
// deleted.
func (m *PugManager) createPug(ctx context.Context, req CreateRequest) (*pug.Pug, error) {
	m.mu.Lock()
	p, s, err := m.openPug(ctx, req)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var prepareErr error
	m.queue.do(s.ID, func() {
		sctx, cancel := serverContext(ctx)
		defer cancel()
		prepareErr = m.servers.Prepare(sctx, s)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.pugLogger(p)
	if prepareErr != nil {
		log.Error().Err(prepareErr).Int64("server_id", s.ID).Msg("failed to prepare server")
		m.discard(ctx, p)
		if errors.Is(prepareErr, pug.ErrServerConnectionFailed) {
			return nil, prepareErr
		}
		return nil, fmt.Errorf("%w: %w", pug.ErrServerConnectionFailed, prepareErr)
	}
	if m.find(p.ID) != p {
		return nil, pug.ErrPugNotFound
	}

	metrics.StateTransitions.WithLabelValues(p.State.String()).Inc()
	log.Info().
		Str("admin", req.PlayerID.String()).
		Int("size", p.Size).
		Str("map", p.Map).
		Int64("server_id", s.ID).
		Msg("pug created")
	return p.Clone(), nil
}

// openPug builds the pug, reserves a server, saves the pug and binds the
// server to it. It must be called with mu held.
func (m *PugManager) openPug(ctx context.Context, req CreateRequest) (*pug.Pug, *gameserver.Server, error) {
	if err := m.checkBan(ctx, req.PlayerID); err != nil {
		return nil, nil, err
	}
	if err := m.checkDuplicate(req.PlayerID); err != nil {
		return nil, nil, err
	}

	size := req.Size
	if size == 0 {
		size = m.opts.DefaultSize
	}
	p, err := pug.New(pug.Options{
		Size:              size,
		Maps:              m.opts.Maps,
		CustomID:          req.CustomID,
		RatingRestriction: req.RatingRestriction,
	}, m.now())
	if err != nil {
		return nil, nil, err
	}

	stats, err := m.playerStats(ctx, req.PlayerID)
	if err != nil {
		return nil, nil, err
	}
	if !p.Admits(stats.Rating) {
		return nil, nil, fmt.Errorf("%w: rating %.0f", pug.ErrPlayerRatingRestricted, stats.Rating.Float64())
	}
	p.AddPlayer(req.PlayerID, req.Name, stats)

	if req.Map != "" {
		if err := p.ForceMap(req.Map); err != nil {
			return nil, nil, err
		}
	}

	s, err := m.servers.Allocate(ctx, p)
	if err != nil {
		return nil, nil, err
	}

	m.active = append(m.active, p)
	if err := m.pugs.SavePug(ctx, m.tenant, p); err != nil {
		m.active = slices.DeleteFunc(m.active, func(o *pug.Pug) bool { return o == p })
		m.servers.Release(s)
		return nil, nil, err
	}
	m.updateActive()

	if err := m.servers.Bind(ctx, s, p); err != nil {
		m.endPug(ctx, p, "server bind failed")
		return nil, nil, err
	}
	return p, s, nil
}

// discard ends a pug that never got a working server and deletes its row.
func (m *PugManager) discard(ctx context.Context, p *pug.Pug) {
	if m.find(p.ID) == p {
		m.endPug(ctx, p, "server preparation failed")
	}
	if err := m.pugs.DeletePug(ctx, p.ID); err != nil {
		log := m.pugLogger(p)
		log.Error().Err(err).Msg("failed to delete pug")
	}
}

// AddPlayer admits a player to a pug. Checks run in order: ban, already in a
// pug, game over, capacity, rating restriction.
func (m *PugManager) AddPlayer(ctx context.Context, pugID int64, id pug.PlayerID, name string) (*pug.Pug, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.addPlayer(ctx, pugID, id, name)
	metrics.Admissions.WithLabelValues(admissionResult(err)).Inc()
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (m *PugManager) addPlayer(ctx context.Context, pugID int64, id pug.PlayerID, name string) (*pug.Pug, error) {
	if err := m.checkBan(ctx, id); err != nil {
		return nil, err
	}
	if err := m.checkDuplicate(id); err != nil {
		return nil, err
	}

	p := m.find(pugID)
	if p == nil {
		return nil, pug.ErrPugNotFound
	}
	if !p.Joinable() {
		return nil, pug.ErrGameOver
	}
	if p.Full() {
		return nil, pug.ErrPugFull
	}

	stats, err := m.playerStats(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Admits(stats.Rating) {
		return nil, fmt.Errorf("%w: rating %.0f", pug.ErrPlayerRatingRestricted, stats.Rating.Float64())
	}

	before := p.State
	p.AddPlayer(id, name, stats)
	if p.Full() && p.State == pug.StateGatheringPlayers {
		p.BeginMapVote(m.now())
	}
	m.transitioned(p, before)

	log := m.pugLogger(p)
	log.Info().
		Str("player", id.String()).
		Int("players", p.PlayerCount()).
		Str("state", p.State.String()).
		Msg("player added")

	m.save(ctx, p)
	return p, nil
}

// RemovePlayer takes a player out of whichever pug they are in. A pug left
// empty is ended.
func (m *PugManager) RemovePlayer(ctx context.Context, id pug.PlayerID) (*pug.Pug, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.playerPug(id)
	if p == nil {
		return nil, pug.ErrPlayerNotInPug
	}

	before := p.State
	if err := p.RemovePlayer(id, m.now()); err != nil {
		return nil, err
	}
	m.transitioned(p, before)
	log := m.pugLogger(p)
	log.Info().Str("player", id.String()).Str("state", p.State.String()).Msg("player removed")

	if p.PlayerCount() == 0 {
		m.endPug(ctx, p, pug.ErrPugBecameEmpty.Error())
		return p.Clone(), nil
	}

	m.save(ctx, p)
	return p.Clone(), nil
}

func (m *PugManager) VoteMap(ctx context.Context, pugID int64, id pug.PlayerID, mapName string) (*pug.Pug, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.find(pugID)
	if p == nil {
		return nil, pug.ErrPugNotFound
	}
	if err := p.VoteMap(id, mapName); err != nil {
		return nil, err
	}

	m.save(ctx, p)
	return p.Clone(), nil
}

func (m *PugManager) ForceMap(ctx context.Context, pugID int64, mapName string) (*pug.Pug, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.find(pugID)
	if p == nil {
		return nil, pug.ErrPugNotFound
	}
	if err := p.ForceMap(mapName); err != nil {
		return nil, err
	}

	log := m.pugLogger(p)
	log.Info().Str("map", mapName).Msg("map forced")
	m.save(ctx, p)
	return p.Clone(), nil
}

func (m *PugManager) EndPug(ctx context.Context, pugID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.find(pugID)
	if p == nil {
		return pug.ErrPugNotFound
	}
	m.endPug(ctx, p, "ended by request")
	return nil
}

func (m *PugManager) Pug(id int64) (*pug.Pug, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p := m.find(id); p != nil {
		return p.Clone(), true
	}
	return nil, false
}

func (m *PugManager) List() []*pug.Pug {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*pug.Pug, len(m.active))
	for i, p := range m.active {
		out[i] = p.Clone()
	}
	return out
}

func (m *PugManager) PlayerPug(id pug.PlayerID) (*pug.Pug, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p := m.playerPug(id); p != nil {
		return p.Clone(), true
	}
	return nil, false
}

// StatusCheck advances every pug whose next step depends on time.
func (m *PugManager) StatusCheck(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range slices.Clone(m.active) {
		m.checkPug(ctx, p, now)
	}
}

func (m *PugManager) checkPug(ctx context.Context, p *pug.Pug, now time.Time) {
	log := m.pugLogger(p)
	before := p.State
	dirty := false

	switch {
	case p.State == pug.StateMapVoting && !now.Before(p.MapVoteEnd):
		mapName, voted := p.EndMapVote()
		log.Info().Str("map", mapName).Bool("voted", voted).Interface("tally", p.VoteTally()).Msg("map vote ended")
		m.startMatch(p, now)
		dirty = true

	case p.State == pug.StateMapVoteCompleted:
		m.startMatch(p, now)
		dirty = true

	case p.State == pug.StateGameOver && !p.StatsDone:
		if !m.settle(ctx, p) && now.Sub(p.GameOverAt) >= constants.StatsRetryWindow {
			m.endPug(ctx, p, "player stats not saved")
			return
		}
		dirty = true

	case p.State == pug.StateGameOver && now.Sub(p.GameOverAt) >= constants.GameOverGrace:
		m.endPug(ctx, p, "game over")
		return

	case p.State == pug.StateGatheringPlayers && now.Sub(p.CreatedAt) >= constants.GatheringTimeout:
		m.endPug(ctx, p, "not enough players")
		return

	case p.ReplacementTimedOut(now):
		if p.PreviousState < pug.StateGameStarted || now.Sub(p.GameStart) < constants.ReplacementGrace {
			m.endPug(ctx, p, "no replacement found")
			return
		}
	}

	if p.HasDisconnects() {
		if evicted := p.CheckDisconnects(now); len(evicted) > 0 {
			dirty = true
			log.Info().Interface("players", evicted).Msg("disconnected players removed")
			if p.PlayerCount() == 0 {
				log.Warn().Err(pug.ErrPugBecameEmpty).Msg("ending pug")
				m.endPug(ctx, p, pug.ErrPugBecameEmpty.Error())
				return
			}
		}
	}

	m.transitioned(p, before)
	if dirty || p.State != before {
		m.save(ctx, p)
	}
}

// startMatch shuffles teams once the map is settled and sends the server to
// the map. Players then have ConnectTimeout to join.
func (m *PugManager) startMatch(p *pug.Pug, now time.Time) {
	log := m.pugLogger(p)

	if p.ShuffleTeams() {
		log.Info().
			Interface("red", p.Teams[pug.TeamRed].Players).
			Interface("blue", p.Teams[pug.TeamBlue].Players).
			Float64("red_rating", p.Teams[pug.TeamRed].Rating.Float64()).
			Float64("blue_rating", p.Teams[pug.TeamBlue].Rating.Float64()).
			Msg("teams shuffled")
	}

	if s, ok := m.server(p); ok {
		snapshot := p.Clone()
		m.command(s, log, "failed to change map", func(ctx context.Context) error {
			return m.servers.ChangeMap(ctx, s, snapshot)
		})
	}

	p.AddConnectTimeouts(now)
}

// settle rates the finished game and stores the players' new stats. It
// reports whether the stats were stored; if not, the next check tries again.
func (m *PugManager) settle(ctx context.Context, p *pug.Pug) bool {
	log := m.pugLogger(p)

	ratings := p.Settle()
	if err := m.stats.SavePlayerStats(ctx, p.EndStats); err != nil {
		log.Error().Err(err).Msg("failed to save player stats")
		return false
	}
	p.StatsDone = true

	log.Info().
		Str("winner", string(p.Winner())).
		Int("red", p.Scores[pug.TeamRed]).
		Int("blue", p.Scores[pug.TeamBlue]).
		Int("rated", len(ratings)).
		Msg("pug settled")
	return true
}

// Run calls StatusCheck every StatusCheckInterval until ctx ends or Stop is
// called.
func (m *PugManager) Run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(constants.StatusCheckInterval)
	defer ticker.Stop()

	m.logger.Info().Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("scheduler stopped")
			return
		case <-m.stop:
			m.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			m.StatusCheck(ctx, m.now())
		}
	}
}

// Stop ends Run and waits for it and for queued server commands. It must only
// be called after Run started.
func (m *PugManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	m.queue.wait()
}

// endPug drops p from the active set, queues the reset of its server and
// marks it finished in storage. The server stays in use until the reset has
// run. Failures are logged; the pug is gone either way.
func (m *PugManager) endPug(ctx context.Context, p *pug.Pug, reason string) {
	log := m.pugLogger(p)

	m.active = slices.DeleteFunc(m.active, func(o *pug.Pug) bool { return o == p })
	m.updateActive()

	if s, ok := m.server(p); ok {
		m.command(s, log, "failed to reset server", func(ctx context.Context) error {
			return m.servers.Reset(ctx, s)
		})
	}

	if p.ID != 0 {
		if err := m.pugs.FinishPug(ctx, p.ID); err != nil {
			log.Error().Err(err).Msg("failed to finish pug")
		}
	}

	log.Info().Str("reason", reason).Str("state", p.State.String()).Msg("pug ended")
}

// server returns the server bound to p, if it is still bound to it.
func (m *PugManager) server(p *pug.Pug) (*gameserver.Server, bool) {
	if p.ServerID == 0 || p.ID == 0 {
		return nil, false
	}
	return m.servers.Bound(p.ServerID, p.ID)
}

// command queues fn for s. It runs after every command queued for s before
// it, outside mu. Failures are logged.
func (m *PugManager) command(s *gameserver.Server, log zerolog.Logger, failure string, fn func(ctx context.Context) error) {
	m.queue.submit(s.ID, func() {
		ctx, cancel := serverContext(context.Background())
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Int64("server_id", s.ID).Msg(failure)
		}
	})
}

func (m *PugManager) save(ctx context.Context, p *pug.Pug) {
	if err := m.pugs.SavePug(ctx, m.tenant, p); err != nil {
		log := m.pugLogger(p)
		log.Error().Err(err).Msg("failed to save pug")
	}
}

func (m *PugManager) transitioned(p *pug.Pug, before pug.State) {
	if p.State != before {
		metrics.StateTransitions.WithLabelValues(p.State.String()).Inc()
	}
}

func (m *PugManager) updateActive() {
	metrics.ActivePugs.WithLabelValues(m.tenant).Set(float64(len(m.active)))
}

func (m *PugManager) find(id int64) *pug.Pug {
	for _, p := range m.active {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (m *PugManager) playerPug(id pug.PlayerID) *pug.Pug {
	for _, p := range m.active {
		if p.HasPlayer(id) {
			return p
		}
	}
	return nil
}

func (m *PugManager) checkBan(ctx context.Context, id pug.PlayerID) error {
	ban, banned, err := m.bans.PlayerBan(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check ban: %w", err)
	}
	if banned {
		return fmt.Errorf("%w: %s", pug.ErrPlayerBanned, ban.Reason)
	}
	return nil
}

func (m *PugManager) checkDuplicate(id pug.PlayerID) error {
	if p := m.playerPug(id); p != nil {
		return fmt.Errorf("%w: pug %d", pug.ErrPlayerAlreadyInPug, p.ID)
	}
	return nil
}

func (m *PugManager) playerStats(ctx context.Context, id pug.PlayerID) (pug.PlayerStats, error) {
	stats, err := m.stats.LoadPlayerStats(ctx, []pug.PlayerID{id})
	if err != nil {
		return pug.PlayerStats{}, fmt.Errorf("failed to load player stats: %w", err)
	}
	s, ok := stats[id]
	if !ok {
		return pug.NewPlayerStats(), nil
	}
	return s, nil
}

func admissionResult(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, pug.ErrPlayerBanned):
		return "banned"
	case errors.Is(err, pug.ErrPlayerAlreadyInPug):
		return "duplicate"
	case errors.Is(err, pug.ErrPugFull):
		return "full"
	case errors.Is(err, pug.ErrGameOver):
		return "game_over"
	case errors.Is(err, pug.ErrPlayerRatingRestricted):
		return "restricted"
	default:
		return "error"
	}
}

func serverContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, constants.ServerCommandTimeout)
}

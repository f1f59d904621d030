package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tf2pug/internal/constants"
	"tf2pug/internal/domain"
	"tf2pug/internal/gameserver"
	"tf2pug/internal/logevent"
	"tf2pug/internal/pug"
	"tf2pug/internal/rating"

	"github.com/leighmacdonald/steamid/v4/steamid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	epoch    = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	testMaps = []string{"cp_granary", "cp_badlands"}
)

const steamBase = 76561197960265728

func player(n int) pug.PlayerID {
	return pug.PlayerID(steamBase + n)
}

type fakeServers struct {
	mu         sync.Mutex
	servers    []*gameserver.Server
	reserved   map[int64]bool
	prepareErr error
	rebindErr  error
	calls      []string
	said       []string
	kicked     []steamid.SteamID
}

func newFakeServers(ids ...int64) *fakeServers {
	f := &fakeServers{reserved: map[int64]bool{}}
	for _, id := range ids {
		f.servers = append(f.servers, &gameserver.Server{Server: domain.Server{ID: id, Host: "127.0.0.1", Port: 27015}})
	}
	return f
}

func (f *fakeServers) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeServers) Allocate(_ context.Context, p *pug.Pug) (*gameserver.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.servers {
		if s.PugID == 0 && !f.reserved[s.ID] {
			f.reserved[s.ID] = true
			p.ServerID = s.ID
			return s, nil
		}
	}
	return nil, pug.ErrNoServerAvailable
}

func (f *fakeServers) Release(s *gameserver.Server) {
	f.mu.Lock()
	f.reserved[s.ID] = false
	f.mu.Unlock()
	f.record("release")
}

func (f *fakeServers) Bind(_ context.Context, s *gameserver.Server, p *pug.Pug) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved[s.ID] = false
	s.PugID = p.ID
	return nil
}

func (f *fakeServers) Prepare(context.Context, *gameserver.Server) error {
	f.record("prepare")
	return f.prepareErr
}

func (f *fakeServers) Rebind(_ context.Context, s *gameserver.Server, p *pug.Pug) error {
	f.record("rebind")
	if f.rebindErr != nil {
		return f.rebindErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s.PugID = p.ID
	return nil
}

func (f *fakeServers) ChangeMap(_ context.Context, _ *gameserver.Server, p *pug.Pug) error {
	f.record("changelevel " + p.Map)
	return nil
}

func (f *fakeServers) Reset(_ context.Context, s *gameserver.Server) error {
	f.mu.Lock()
	s.PugID = 0
	f.mu.Unlock()
	f.record("reset")
	return nil
}

func (f *fakeServers) Get(id int64) (*gameserver.Server, bool) {
	for _, s := range f.servers {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (f *fakeServers) Bound(id, pugID int64) (*gameserver.Server, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.servers {
		if s.ID == id && s.PugID == pugID {
			return s, true
		}
	}
	return nil, false
}

func (f *fakeServers) Say(_ context.Context, _ *gameserver.Server, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, msg)
	return nil
}

func (f *fakeServers) Kick(_ context.Context, _ *gameserver.Server, sid steamid.SteamID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, sid)
	return nil
}

func (f *fakeServers) Exec(_ context.Context, _ *gameserver.Server, cmd string) (string, error) {
	f.record(cmd)
	return "", nil
}

type fakePugStore struct {
	nextID   int64
	saved    map[int64]*pug.Pug
	finished map[int64]bool
	saveErr  error
}

func newFakePugStore() *fakePugStore {
	return &fakePugStore{saved: map[int64]*pug.Pug{}, finished: map[int64]bool{}}
}

func (s *fakePugStore) LoadPugs(context.Context, string) ([]*pug.Pug, error) {
	var out []*pug.Pug
	for id := int64(1); id <= s.nextID; id++ {
		if p, ok := s.saved[id]; ok && !s.finished[id] {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *fakePugStore) SavePug(_ context.Context, _ string, p *pug.Pug) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	}
	s.saved[p.ID] = p.Clone()
	return nil
}

func (s *fakePugStore) FinishPug(_ context.Context, id int64) error {
	s.finished[id] = true
	return nil
}

func (s *fakePugStore) DeletePug(_ context.Context, id int64) error {
	delete(s.saved, id)
	delete(s.finished, id)
	return nil
}

type fakeStats struct {
	stats   map[pug.PlayerID]pug.PlayerStats
	saveErr error
}

func (s *fakeStats) LoadPlayerStats(_ context.Context, ids []pug.PlayerID) (map[pug.PlayerID]pug.PlayerStats, error) {
	out := map[pug.PlayerID]pug.PlayerStats{}
	for _, id := range ids {
		if st, ok := s.stats[id]; ok {
			out[id] = st
		} else {
			out[id] = pug.NewPlayerStats()
		}
	}
	return out, nil
}

func (s *fakeStats) SavePlayerStats(_ context.Context, stats map[pug.PlayerID]pug.PlayerStats) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	for id, st := range stats {
		s.stats[id] = st
	}
	return nil
}

type fakeBans map[pug.PlayerID]*domain.Ban

func (b fakeBans) PlayerBan(_ context.Context, id pug.PlayerID) (*domain.Ban, bool, error) {
	ban, ok := b[id]
	return ban, ok, nil
}

type harness struct {
	m       *PugManager
	servers *fakeServers
	store   *fakePugStore
	stats   *fakeStats
	bans    fakeBans
	clock   time.Time
}

func newHarness(t *testing.T, size int, serverIDs ...int64) *harness {
	t.Helper()

	h := &harness{
		servers: newFakeServers(serverIDs...),
		store:   newFakePugStore(),
		stats:   &fakeStats{stats: map[pug.PlayerID]pug.PlayerStats{}},
		bans:    fakeBans{},
		clock:   epoch,
	}
	h.m = NewPugManager("tenant", ManagerOptions{Maps: testMaps, DefaultSize: size},
		h.servers, h.bans, h.store, h.stats, zerolog.Nop())
	h.m.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) create(t *testing.T, n int) *pug.Pug {
	t.Helper()
	p, err := h.m.CreatePug(context.Background(), CreateRequest{PlayerID: player(n), Name: "creator"})
	require.NoError(t, err)
	return p
}

func (h *harness) fill(t *testing.T, pugID int64, from, to int) {
	t.Helper()
	for i := from; i <= to; i++ {
		_, err := h.m.AddPlayer(context.Background(), pugID, player(i), "player")
		require.NoError(t, err)
	}
}

func (h *harness) event(serverID int64, ev logevent.Event) {
	h.m.HandleEvent(serverID, ev)
	h.flush()
}

// flush waits for queued server commands.
func (h *harness) flush() {
	h.m.queue.wait()
}

func (h *harness) state(t *testing.T, id int64) pug.State {
	t.Helper()
	p, ok := h.m.Pug(id)
	require.True(t, ok)
	return p.State
}

func logPlayer(id pug.PlayerID) logevent.Player {
	return logevent.Player{Name: "x", SteamID: steamid.New(int64(id))}
}

func TestPugManager_FullLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1)
	ctx := context.Background()

	created := h.create(t, 1)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, int64(1), created.ServerID)
	assert.Equal(t, player(1), created.Admin)
	assert.Equal(t, []string{"prepare"}, h.servers.calls)

	h.fill(t, created.ID, 2, 11)
	assert.Equal(t, pug.StateGatheringPlayers, h.state(t, created.ID))
	h.fill(t, created.ID, 12, 12)

	p, _ := h.m.Pug(created.ID)
	assert.Equal(t, pug.StateMapVoting, p.State)
	assert.Equal(t, epoch.Add(constants.MapVoteDuration), p.MapVoteEnd)

	_, err := h.m.VoteMap(ctx, created.ID, player(1), "cp_badlands")
	require.NoError(t, err)
	_, err = h.m.VoteMap(ctx, created.ID, player(2), "cp_badlands")
	require.NoError(t, err)
	_, err = h.m.VoteMap(ctx, created.ID, player(3), "cp_granary")
	require.NoError(t, err)
	_, err = h.m.VoteMap(ctx, created.ID, player(3), "pl_upward")
	assert.ErrorIs(t, err, pug.ErrInvalidMap)

	h.m.StatusCheck(ctx, epoch.Add(30*time.Second))
	assert.Equal(t, pug.StateMapVoting, h.state(t, created.ID))

	h.clock = epoch.Add(constants.MapVoteDuration)
	h.m.StatusCheck(ctx, h.clock)
	h.flush()

	p, _ = h.m.Pug(created.ID)
	assert.Equal(t, pug.StateTeamsShuffled, p.State)
	assert.Equal(t, "cp_badlands", p.Map)
	assert.True(t, p.TeamsDone())
	assert.Len(t, p.Disconnects, 12)
	assert.Contains(t, h.servers.calls, "changelevel cp_badlands")

	for i := 1; i <= 12; i++ {
		h.event(1, logevent.Event{Kind: logevent.KindPlayerConnected, Player: logPlayer(player(i))})
	}
	h.event(1, logevent.Event{Kind: logevent.KindPlayerConnected, Player: logPlayer(player(99))})
	require.Len(t, h.servers.kicked, 1)
	assert.Equal(t, int64(player(99)), h.servers.kicked[0].Int64())

	p, _ = h.m.Pug(created.ID)
	assert.False(t, p.HasDisconnects())

	h.event(1, logevent.Event{Kind: logevent.KindChatCommand, Player: logPlayer(player(2)), Command: "!start"})
	assert.NotContains(t, h.servers.calls, "mp_restartgame 1")
	h.event(1, logevent.Event{Kind: logevent.KindChatCommand, Player: logPlayer(player(1)), Command: "!start"})
	assert.Contains(t, h.servers.calls, "mp_restartgame 1")

	h.event(1, logevent.Event{Kind: logevent.KindChatCommand, Player: logPlayer(player(4)), Command: "!teams"})
	assert.Len(t, h.servers.said, 2)

	h.clock = epoch.Add(5 * time.Minute)
	h.event(1, logevent.Event{Kind: logevent.KindRoundStart})
	assert.Equal(t, pug.StateGameStarted, h.state(t, created.ID))

	p, _ = h.m.Pug(created.ID)
	red := p.Teams[pug.TeamRed]
	h.event(1, logevent.Event{Kind: logevent.KindKill, Player: logPlayer(red.Players[0]), Target: logPlayer(p.Teams[pug.TeamBlue].Players[0])})
	h.event(1, logevent.Event{Kind: logevent.KindTeamScore, Team: "red", Score: 3})
	h.event(1, logevent.Event{Kind: logevent.KindTeamScore, Team: "blue", Score: 1})

	h.clock = epoch.Add(40 * time.Minute)
	h.event(1, logevent.Event{Kind: logevent.KindGameOver, Reason: "Reached Win Limit"})
	assert.Equal(t, pug.StateGameOver, h.state(t, created.ID))

	h.m.StatusCheck(ctx, h.clock)
	require.Len(t, h.stats.stats, 12)
	for _, id := range red.Players {
		assert.Equal(t, rating.Rating(1512), h.stats.stats[id].Rating)
		assert.Equal(t, 1, h.stats.stats[id].Wins)
	}
	assert.Equal(t, 1, h.stats.stats[red.Players[0]].Kills)
	assert.True(t, h.store.saved[created.ID].StatsDone)

	h.m.StatusCheck(ctx, h.clock.Add(5*time.Second))
	assert.Len(t, h.m.List(), 1)

	h.m.StatusCheck(ctx, h.clock.Add(constants.GameOverGrace))
	h.flush()
	assert.Empty(t, h.m.List())
	assert.True(t, h.store.finished[created.ID])
	assert.Equal(t, "reset", h.servers.calls[len(h.servers.calls)-1])
	assert.Zero(t, h.servers.servers[0].PugID)
}

func TestPugManager_CreateWithoutServerRollsBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12)

	_, err := h.m.CreatePug(context.Background(), CreateRequest{PlayerID: player(1), Name: "a"})
	assert.ErrorIs(t, err, pug.ErrNoServerAvailable)
	assert.Empty(t, h.m.List())
	assert.Empty(t, h.store.saved)

	_, ok := h.m.PlayerPug(player(1))
	assert.False(t, ok)
}

func TestPugManager_CreateSaveFailureReleasesServer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1)
	h.store.saveErr = errors.New("disk full")

	_, err := h.m.CreatePug(context.Background(), CreateRequest{PlayerID: player(1), Name: "a"})
	assert.Error(t, err)
	assert.Empty(t, h.m.List())
	assert.Contains(t, h.servers.calls, "release")

	h.store.saveErr = nil
	h.create(t, 1)
}

func TestPugManager_CreatePrepareFailureDeletesPug(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1)
	h.servers.prepareErr = errors.New("connection refused")

	_, err := h.m.CreatePug(context.Background(), CreateRequest{PlayerID: player(1), Name: "a"})
	assert.ErrorIs(t, err, pug.ErrServerConnectionFailed)
	h.flush()
	assert.Empty(t, h.m.List())
	assert.Empty(t, h.store.saved, "no row is left behind")
	assert.Empty(t, h.store.finished)
	assert.Zero(t, h.servers.servers[0].PugID)
	assert.Equal(t, []string{"prepare", "reset"}, h.servers.calls)

	h.servers.prepareErr = nil
	p := h.create(t, 1)
	assert.Equal(t, int64(1), p.ServerID)
}

func TestPugManager_CreateWithForcedMap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1)
	ctx := context.Background()

	_, err := h.m.CreatePug(ctx, CreateRequest{PlayerID: player(1), Map: "pl_upward"})
	assert.ErrorIs(t, err, pug.ErrInvalidMap)

	p, err := h.m.CreatePug(ctx, CreateRequest{PlayerID: player(1), Map: "cp_granary"})
	require.NoError(t, err)
	assert.True(t, p.MapForced)

	p, err = h.m.AddPlayer(ctx, p.ID, player(2), "b")
	require.NoError(t, err)
	assert.Equal(t, pug.StateMapVoteCompleted, p.State)

	h.m.StatusCheck(ctx, epoch)
	h.flush()
	assert.Equal(t, pug.StateTeamsShuffled, h.state(t, p.ID))
	assert.Contains(t, h.servers.calls, "changelevel cp_granary")
}

func TestPugManager_AdmissionOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1, 2, 3)
	ctx := context.Background()
	limit := rating.Rating(1600)
	h.stats.stats[player(3)] = pug.PlayerStats{Rating: 1700}
	h.stats.stats[player(4)] = pug.PlayerStats{Rating: 1650}
	h.stats.stats[player(6)] = pug.PlayerStats{Rating: 1700}

	open := h.create(t, 1)
	h.fill(t, open.ID, 2, 2)

	fullRestricted, err := h.m.CreatePug(ctx, CreateRequest{PlayerID: player(3), RatingRestriction: &limit})
	require.NoError(t, err)
	h.fill(t, fullRestricted.ID, 4, 4)

	restricted, err := h.m.CreatePug(ctx, CreateRequest{PlayerID: player(6), RatingRestriction: &limit})
	require.NoError(t, err)

	h.bans[player(1)] = &domain.Ban{Reason: "toxic"}
	_, err = h.m.AddPlayer(ctx, restricted.ID, player(1), "a")
	assert.ErrorIs(t, err, pug.ErrPlayerBanned, "ban before duplicate")
	delete(h.bans, player(1))

	_, err = h.m.AddPlayer(ctx, open.ID, player(1), "a")
	assert.ErrorIs(t, err, pug.ErrPlayerAlreadyInPug, "duplicate before capacity")

	_, err = h.m.AddPlayer(ctx, fullRestricted.ID, player(5), "e")
	assert.ErrorIs(t, err, pug.ErrPugFull, "capacity before restriction")

	_, err = h.m.AddPlayer(ctx, restricted.ID, player(5), "e")
	assert.ErrorIs(t, err, pug.ErrPlayerRatingRestricted)

	_, err = h.m.AddPlayer(ctx, 99, player(5), "e")
	assert.ErrorIs(t, err, pug.ErrPugNotFound)

	h.stats.stats[player(5)] = pug.PlayerStats{Rating: 1650}
	p, err := h.m.AddPlayer(ctx, restricted.ID, player(5), "e")
	require.NoError(t, err)
	assert.True(t, p.HasPlayer(player(5)))
}

func TestPugManager_CreateRespectsRestriction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1)
	limit := rating.Rating(-1400)

	_, err := h.m.CreatePug(context.Background(), CreateRequest{PlayerID: player(1), RatingRestriction: &limit})
	assert.ErrorIs(t, err, pug.ErrPlayerRatingRestricted)
	assert.Empty(t, h.m.List())
}

func TestPugManager_RemovePlayer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1)
	ctx := context.Background()
	p := h.create(t, 1)
	h.fill(t, p.ID, 2, 2)

	_, err := h.m.RemovePlayer(ctx, player(7))
	assert.ErrorIs(t, err, pug.ErrPlayerNotInPug)

	got, err := h.m.RemovePlayer(ctx, player(1))
	require.NoError(t, err)
	assert.Equal(t, player(2), got.Admin)

	_, err = h.m.RemovePlayer(ctx, player(2))
	require.NoError(t, err)
	assert.Empty(t, h.m.List())
	assert.True(t, h.store.finished[p.ID])
}

func TestPugManager_ForceMapAndEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1)
	ctx := context.Background()
	p := h.create(t, 1)

	got, err := h.m.ForceMap(ctx, p.ID, "cp_granary")
	require.NoError(t, err)
	assert.Equal(t, "cp_granary", got.Map)

	_, err = h.m.ForceMap(ctx, 42, "cp_granary")
	assert.ErrorIs(t, err, pug.ErrPugNotFound)

	require.NoError(t, h.m.EndPug(ctx, p.ID))
	assert.ErrorIs(t, h.m.EndPug(ctx, p.ID), pug.ErrPugNotFound)
	assert.True(t, h.store.finished[p.ID])
}

func TestPugManager_GatheringTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1)
	p := h.create(t, 1)

	h.m.StatusCheck(context.Background(), epoch.Add(constants.GatheringTimeout-time.Second))
	assert.Len(t, h.m.List(), 1)

	h.m.StatusCheck(context.Background(), epoch.Add(constants.GatheringTimeout))
	assert.Empty(t, h.m.List())
	assert.True(t, h.store.finished[p.ID])
}

// startedPug runs a 2 player pug up to the given state.
func startedPug(t *testing.T, h *harness, live bool) *pug.Pug {
	t.Helper()
	ctx := context.Background()

	p := h.create(t, 1)
	h.fill(t, p.ID, 2, 2)
	h.clock = epoch.Add(constants.MapVoteDuration)
	h.m.StatusCheck(ctx, h.clock)
	for i := 1; i <= 2; i++ {
		h.event(1, logevent.Event{Kind: logevent.KindPlayerConnected, Player: logPlayer(player(i))})
	}
	if live {
		h.event(1, logevent.Event{Kind: logevent.KindRoundStart})
	}
	return p
}

func TestPugManager_ReplacementTimeoutBeforeGameEnds(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1)
	p := startedPug(t, h, false)

	_, err := h.m.RemovePlayer(context.Background(), player(2))
	require.NoError(t, err)
	assert.Equal(t, pug.StateReplacementRequired, h.state(t, p.ID))

	h.m.StatusCheck(context.Background(), h.clock.Add(constants.ReplacementTimeout))
	assert.Empty(t, h.m.List())
}

func TestPugManager_ReplacementTimeoutLateInGameKeepsPug(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1)
	p := startedPug(t, h, true)

	h.clock = h.clock.Add(constants.ReplacementGrace)
	_, err := h.m.RemovePlayer(context.Background(), player(2))
	require.NoError(t, err)

	h.m.StatusCheck(context.Background(), h.clock.Add(constants.ReplacementTimeout))
	assert.Len(t, h.m.List(), 1)

	_, err = h.m.AddPlayer(context.Background(), p.ID, player(3), "sub")
	require.NoError(t, err)
	assert.Equal(t, pug.StateGameStarted, h.state(t, p.ID))
}

func TestPugManager_DisconnectEvictionEndsEmptyPug(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1)
	p := startedPug(t, h, true)

	for i := 1; i <= 2; i++ {
		h.event(1, logevent.Event{Kind: logevent.KindPlayerDisconnected, Player: logPlayer(player(i)), Reason: "timed out"})
	}
	got, _ := h.m.Pug(p.ID)
	assert.Len(t, got.Disconnects, 2)

	h.m.StatusCheck(context.Background(), h.clock.Add(constants.DisconnectTimeout))
	assert.Empty(t, h.m.List())
	assert.True(t, h.store.finished[p.ID])
}

func TestPugManager_Load(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 12, 1, 2, 3)
	ctx := context.Background()

	h.clock = epoch.Add(-constants.StalePugAge)
	stale := h.create(t, 1)
	h.clock = epoch
	kept := h.create(t, 2)
	missing := h.create(t, 3)
	h.store.saved[missing.ID].ServerID = 99

	h.clock = epoch.Add(time.Minute)
	restarted := NewPugManager("tenant", ManagerOptions{Maps: testMaps, DefaultSize: 12},
		h.servers, h.bans, h.store, h.stats, zerolog.Nop())
	restarted.now = func() time.Time { return h.clock }
	require.NoError(t, restarted.Load(ctx))

	list := restarted.List()
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
	assert.True(t, h.store.finished[stale.ID])
	assert.True(t, h.store.finished[missing.ID])
	assert.Contains(t, h.servers.calls, "rebind")
}

func TestPugManager_AddPlayerAfterGameOver(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1)
	ctx := context.Background()
	p := startedPug(t, h, true)

	h.event(1, logevent.Event{Kind: logevent.KindGameOver, Reason: "Reached Win Limit"})
	_, err := h.m.RemovePlayer(ctx, player(2))
	require.NoError(t, err)
	assert.Equal(t, pug.StateGameOver, h.state(t, p.ID))

	_, err = h.m.AddPlayer(ctx, p.ID, player(3), "late")
	assert.ErrorIs(t, err, pug.ErrGameOver)

	got, _ := h.m.Pug(p.ID)
	assert.False(t, got.HasPlayer(player(3)))
	assert.Equal(t, "game_over", admissionResult(err))
}

func TestPugManager_SettleRetriesFailedStatsSave(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1)
	ctx := context.Background()
	p := startedPug(t, h, true)
	h.event(1, logevent.Event{Kind: logevent.KindGameOver, Reason: "Reached Win Limit"})

	h.stats.saveErr = errors.New("database is locked")
	h.m.StatusCheck(ctx, h.clock)
	assert.Empty(t, h.stats.stats)
	assert.False(t, h.store.saved[p.ID].StatsDone)

	// the grace period does not end a pug whose stats are unsaved
	h.m.StatusCheck(ctx, h.clock.Add(constants.GameOverGrace))
	assert.Len(t, h.m.List(), 1)

	h.stats.saveErr = nil
	h.m.StatusCheck(ctx, h.clock.Add(constants.GameOverGrace+time.Second))
	assert.Len(t, h.stats.stats, 2)
	assert.True(t, h.store.saved[p.ID].StatsDone)
	assert.Equal(t, 1, h.stats.stats[player(1)].GamesPlayed)
}

func TestPugManager_SettleGivesUpAfterRetryWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, 1)
	ctx := context.Background()
	p := startedPug(t, h, true)
	h.event(1, logevent.Event{Kind: logevent.KindGameOver, Reason: "Reached Win Limit"})

	h.stats.saveErr = errors.New("database is locked")
	h.m.StatusCheck(ctx, h.clock.Add(constants.StatsRetryWindow-time.Second))
	assert.Len(t, h.m.List(), 1)

	h.m.StatusCheck(ctx, h.clock.Add(constants.StatsRetryWindow))
	h.flush()
	assert.Empty(t, h.m.List())
	assert.True(t, h.store.finished[p.ID])
	assert.False(t, h.store.saved[p.ID].StatsDone)
	assert.Equal(t, "reset", h.servers.calls[len(h.servers.calls)-1])
}

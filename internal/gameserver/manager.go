package gameserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"tf2pug/internal/constants"
	"tf2pug/internal/domain"
	"tf2pug/internal/logevent"
	"tf2pug/internal/pug"

	"github.com/leighmacdonald/steamid/v4/steamid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	passwordLength   = 10
	// sv_logsecret only accepts digits
	secretAlphabet = "123456789"
	secretLength   = 9
)

type Store interface {
	ListServers(ctx context.Context, tenant string) ([]domain.Server, error)
	UpdateServer(ctx context.Context, server domain.Server) error
}

// EventHandler receives log events from the server with the given id.
type EventHandler func(serverID int64, ev logevent.Event)

type Options struct {
	// LogAddress is the ip game servers send their logs to.
	LogAddress string
	// ListenHost is the local address log listeners bind to.
	ListenHost string
	// PortMin and PortMax bound the log listener ports. 0 picks any free port.
	PortMin int
	PortMax int
}

// Manager owns the game servers of one tenant.
type Manager struct {
	tenant  string
	opts    Options
	store   Store
	logger  zerolog.Logger
	handler EventHandler

	mu      sync.Mutex
	servers []*Server
}

func NewManager(tenant string, opts Options, store Store, logger zerolog.Logger) *Manager {
	if opts.ListenHost == "" {
		opts.ListenHost = "0.0.0.0"
	}
	return &Manager{
		tenant: tenant,
		opts:   opts,
		store:  store,
		logger: logger.With().Str("component", "gameserver").Str("tenant", tenant).Logger(),
	}
}

// SetEventHandler must be called before any server is prepared.
func (m *Manager) SetEventHandler(h EventHandler) {
	m.handler = h
}

func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.store.ListServers(ctx, m.tenant)
	if err != nil {
		return fmt.Errorf("failed to load servers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.servers = make([]*Server, 0, len(rows))
	for _, row := range rows {
		m.servers = append(m.servers, newServer(row, m.logger))
	}

	m.logger.Info().Int("servers", len(m.servers)).Msg("servers loaded")
	return nil
}

func (m *Manager) Get(id int64) (*Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.servers {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Bound returns the server with the given id if it is still bound to pugID.
func (m *Manager) Bound(id, pugID int64) (*Server, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.servers {
		if s.ID == id && s.PugID == pugID {
			return s, true
		}
	}
	return nil, false
}

func (m *Manager) Servers() []*Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Server(nil), m.servers...)
}

// Allocate reserves the first idle server for p. It does not talk to the
// server; see Bind and Prepare.
func (m *Manager) Allocate(ctx context.Context, p *pug.Pug) (*Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.servers {
		if s.InUse() {
			continue
		}

		password, err := gonanoid.Generate(passwordAlphabet, passwordLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate server password: %w", err)
		}

		s.reserved = true
		s.Password = password
		p.ServerID = s.ID

		m.logger.Info().Int64("server_id", s.ID).Msg("server allocated")
		return s, nil
	}

	return nil, pug.ErrNoServerAvailable
}

// Release drops a reservation without touching the server.
func (m *Manager) Release(s *Server) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.reserved = false
	s.PugID = 0
	s.Password = ""
}

// Bind records the id of the saved pug on its server and persists it.
func (m *Manager) Bind(ctx context.Context, s *Server, p *pug.Pug) error {
	m.mu.Lock()
	s.PugID = p.ID
	s.reserved = false
	row := s.Server
	m.mu.Unlock()

	if err := m.store.UpdateServer(ctx, row); err != nil {
		return fmt.Errorf("failed to save server %d: %w", s.ID, err)
	}
	return nil
}

// Prepare locks the server for its pug and starts receiving its logs.
func (m *Manager) Prepare(ctx context.Context, s *Server) error {
	commands := []string{
		fmt.Sprintf("sv_password %q", s.Password),
		fmt.Sprintf("say This server has been reserved for pug %d", s.PugID),
		"kickall",
	}
	if _, err := s.Exec(ctx, strings.Join(commands, "; ")); err != nil {
		return err
	}

	if err := m.attachLogs(ctx, s); err != nil {
		return err
	}

	s.logger.Info().Int64("pug_id", s.PugID).Int("log_port", s.LogPort).Msg("server prepared")
	return nil
}

// Rebind reattaches a pug loaded from storage to its server. Players already
// on the server are left alone.
func (m *Manager) Rebind(ctx context.Context, s *Server, p *pug.Pug) error {
	m.mu.Lock()
	s.PugID = p.ID
	m.mu.Unlock()

	return m.attachLogs(ctx, s)
}

func (m *Manager) attachLogs(ctx context.Context, s *Server) error {
	secret, err := gonanoid.Generate(secretAlphabet, secretLength)
	if err != nil {
		return fmt.Errorf("failed to generate log secret: %w", err)
	}
	s.LogSecret = secret

	l, err := m.listen(s)
	if err != nil {
		return err
	}
	s.setListener(l)
	s.LogPort = l.Port()

	commands := []string{
		fmt.Sprintf("logaddress_add %s", m.logAddress(s)),
		fmt.Sprintf("sv_logsecret %s", secret),
		"log on",
	}
	if _, err := s.Exec(ctx, strings.Join(commands, "; ")); err != nil {
		s.stopListener()
		return err
	}
	return nil
}

func (m *Manager) logAddress(s *Server) string {
	return net.JoinHostPort(m.opts.LogAddress, strconv.Itoa(s.LogPort))
}

func (m *Manager) listen(s *Server) (*logevent.Listener, error) {
	handler := func(ev logevent.Event) {
		if m.handler != nil {
			m.handler(s.ID, ev)
		}
	}

	if m.opts.PortMin == 0 {
		return logevent.Listen(net.JoinHostPort(m.opts.ListenHost, "0"), s.LogSecret, handler, s.logger)
	}

	var lastErr error
	for port := m.opts.PortMin; port <= m.opts.PortMax; port++ {
		l, err := logevent.Listen(net.JoinHostPort(m.opts.ListenHost, strconv.Itoa(port)), s.LogSecret, handler, s.logger)
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free log port in %d-%d: %w", m.opts.PortMin, m.opts.PortMax, lastErr)
}

func (m *Manager) ChangeMap(ctx context.Context, s *Server, p *pug.Pug) error {
	cmd := fmt.Sprintf("kickall; changelevel %s; sv_password %q", p.Map, s.Password)
	if _, err := s.Exec(ctx, cmd); err != nil {
		return fmt.Errorf("failed to change map to %s: %w", p.Map, err)
	}
	s.logger.Info().Int64("pug_id", p.ID).Str("map", p.Map).Msg("map changed")
	return nil
}

// Reset wipes the server and releases it. The binding is cleared even when
// the server cannot be reached.
func (m *Manager) Reset(ctx context.Context, s *Server) error {
	password, err := gonanoid.Generate(passwordAlphabet, passwordLength)
	if err != nil {
		return fmt.Errorf("failed to generate server password: %w", err)
	}

	commands := []string{
		"say This server is being reset because the pug is over",
		fmt.Sprintf("logaddress_del %s", m.logAddress(s)),
		"kickall",
		fmt.Sprintf("sv_password %q", password),
	}
	_, execErr := s.Exec(ctx, strings.Join(commands, "; "))
	s.stopListener()

	m.mu.Lock()
	s.PugID = 0
	s.reserved = false
	s.Password = ""
	s.LogSecret = ""
	s.LogPort = 0
	row := s.Server
	m.mu.Unlock()

	if err := m.store.UpdateServer(ctx, row); err != nil {
		return fmt.Errorf("failed to save server %d: %w", s.ID, err)
	}
	if execErr != nil {
		s.logger.Warn().Err(execErr).Msg("server released without reset")
		return execErr
	}

	s.logger.Info().Msg("server reset")
	return nil
}

func (m *Manager) Say(ctx context.Context, s *Server, msg string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("say %s", strings.ReplaceAll(msg, ";", ",")))
	return err
}

func (m *Manager) Kick(ctx context.Context, s *Server, sid steamid.SteamID, reason string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("kickid \"%s\" %q", sid.Steam3(), reason))
	return err
}

func (m *Manager) Exec(ctx context.Context, s *Server, cmd string) (string, error) {
	return s.Exec(ctx, cmd)
}

// Close releases every connection and listener without resetting servers.
func (m *Manager) Close(ctx context.Context) error {
	servers := m.Servers()

	g, _ := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			s.close()
			return nil
		})
	}
	return g.Wait()
}

// Ping checks that every server accepts RCON.
func (m *Manager) Ping(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, s := range m.Servers() {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gCtx, constants.RconPingTimeout)
			defer cancel()
			_, err := s.Exec(ctx, "echo ping")
			return err
		})
	}
	return g.Wait()
}

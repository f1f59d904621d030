package gameserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tf2pug/internal/domain"
	"tf2pug/internal/logevent"
	"tf2pug/internal/metrics"
	"tf2pug/internal/pug"
	"tf2pug/internal/rcon"

	"github.com/rs/zerolog"
)

// Server is one game server process. It owns the RCON connection and, while
// bound to a pug, the log listener.
type Server struct {
	domain.Server

	LogSecret string
	LogPort   int

	// reserved marks a server allocated to a pug that has not been saved yet.
	reserved bool

	mu       sync.Mutex
	conn     *rcon.Conn
	listener *logevent.Listener
	logger   zerolog.Logger
}

func newServer(row domain.Server, logger zerolog.Logger) *Server {
	return &Server{
		Server: row,
		logger: logger.With().Str("server", row.Address()).Int64("server_id", row.ID).Logger(),
	}
}

func (s *Server) InUse() bool {
	return s.PugID != 0 || s.reserved
}

// connection returns the RCON connection, replacing it if the previous one failed.
func (s *Server) connection() *rcon.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.Err() != nil {
		s.conn = rcon.New(s.Address(), s.RconPassword, s.logger)
	}
	return s.conn
}

// Exec runs a console command. Transport and auth failures are reported as
// pug.ErrServerConnectionFailed.
func (s *Server) Exec(ctx context.Context, command string) (string, error) {
	body, err := s.connection().Exec(ctx, command)
	if err != nil {
		metrics.RconCommands.WithLabelValues("error").Inc()
		if errors.Is(err, rcon.ErrProtocol) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("failed to exec on %s: %w", s.Address(), err)
		}
		return "", fmt.Errorf("%w: %s: %w", pug.ErrServerConnectionFailed, s.Address(), err)
	}
	metrics.RconCommands.WithLabelValues("ok").Inc()
	return body, nil
}

func (s *Server) setListener(l *logevent.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *Server) stopListener() {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
}

func (s *Server) close() {
	s.stopListener()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

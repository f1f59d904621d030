package logevent

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"tf2pug/internal/constants"
	"tf2pug/internal/metrics"

	"github.com/rs/zerolog"
)

var errListenerClosed = errors.New("listener is closed")

const readDeadline = time.Second

// Handler receives every event classified from a server's log stream.
type Handler func(Event)

// Listener receives the UDP log stream a game server sends after
// "logaddress_add". Packets are
//
//	\xFF\xFF\xFF\xFF R L <line>          without sv_logsecret
//	\xFF\xFF\xFF\xFF S<secret> L <line>  with sv_logsecret
//
// When a secret is configured, only packets carrying it are accepted.
type Listener struct {
	conn    *net.UDPConn
	secret  string
	handler Handler
	logger  zerolog.Logger
	done    chan struct{}
	wg      sync.WaitGroup
}

// Listen binds addr (host:port, port 0 picks a free one) and starts reading.
func Listen(addr, secret string, handler Handler, logger zerolog.Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve log address %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &Listener{
		conn:    conn,
		secret:  secret,
		handler: handler,
		logger:  logger.With().Str("component", "logevent").Str("listen", conn.LocalAddr().String()).Logger(),
		done:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.serve()

	l.logger.Debug().Msg("log listener started")
	return l, nil
}

func (l *Listener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

func (l *Listener) Close() {
	if l.isDone() {
		return
	}
	close(l.done)
	l.conn.Close()
	l.wg.Wait()
	l.logger.Debug().Msg("log listener stopped")
}

func (l *Listener) isDone() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Listener) read(buf []byte) (int, error) {
	if l.isDone() {
		return 0, errListenerClosed
	}
	if err := l.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return 0, fmt.Errorf("error setting read deadline: %w", err)
	}
	n, _, err := l.conn.ReadFromUDP(buf)
	return n, err
}

func (l *Listener) serve() {
	defer l.wg.Done()

	buf := make([]byte, constants.LogPacketSize)
	for {
		n, err := l.read(buf)
		if err != nil {
			if l.isDone() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logger.Warn().Err(err).Msg("error reading log packet")
			continue
		}

		line, ok := l.unwrap(buf[:n])
		if !ok {
			metrics.LogLines.WithLabelValues("rejected").Inc()
			continue
		}

		ev, ok := Parse(line)
		if !ok {
			metrics.LogLines.WithLabelValues(KindUnknown.String()).Inc()
			continue
		}
		metrics.LogLines.WithLabelValues(ev.Kind.String()).Inc()
		l.handler(ev)
	}
}

// unwrap strips the packet header and checks the secret, returning the log
// line starting at "L ".
func (l *Listener) unwrap(data []byte) (string, bool) {
	data = bytes.TrimRight(data, "\x00\r\n ")
	data = bytes.TrimLeft(data, "\xff")
	if len(data) == 0 {
		return "", false
	}

	idx := bytes.Index(data, []byte("L "))
	if idx < 1 {
		return "", false
	}

	switch data[0] {
	case 'R':
		if l.secret != "" || idx != 1 {
			return "", false
		}
	case 'S':
		if string(data[1:idx]) != l.secret {
			return "", false
		}
	default:
		return "", false
	}

	return string(data[idx:]), true
}

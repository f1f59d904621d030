package rcon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"tf2pug/internal/constants"

	"github.com/rs/zerolog"
)

var (
	ErrProtocol   = errors.New("rcon protocol error")
	ErrAuthFailed = errors.New("rcon authentication failed")
	ErrClosed     = errors.New("rcon connection closed")
)

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateAuthenticating
	stateExecuting
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateAuthenticating:
		return "authenticating"
	case stateExecuting:
		return "executing"
	default:
		return "failed"
	}
}

type result struct {
	body string
	err  error
}

type request struct {
	command string
	done    chan result
}

type Option func(*Conn)

func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) { c.dialTimeout = d }
}

func WithIOTimeout(d time.Duration) Option {
	return func(c *Conn) { c.ioTimeout = d }
}

// Conn is a Source RCON client for one game server. Commands run one at a
// time in FIFO order on a single worker goroutine. The first connection level
// error is latched: it fails every queued command and every later call, and
// the Conn must be replaced.
type Conn struct {
	addr        string
	password    string
	dialTimeout time.Duration
	ioTimeout   time.Duration
	logger      zerolog.Logger

	mu            sync.Mutex
	conn          net.Conn
	state         state
	authenticated bool
	requestID     int32
	queue         []*request
	err           error
}

// New returns an unconnected Conn. The socket is opened by the first Exec.
func New(addr, password string, logger zerolog.Logger, opts ...Option) *Conn {
	c := &Conn{
		addr:        addr,
		password:    password,
		dialTimeout: constants.RconDialTimeout,
		ioTimeout:   constants.RconIOTimeout,
		logger:      logger.With().Str("component", "rcon").Str("addr", addr).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exec queues command and waits for its response. ctx only bounds the wait;
// a command already on the wire runs to completion.
func (c *Conn) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return "", err
	}

	req := &request{command: command, done: make(chan result, 1)}
	c.queue = append(c.queue, req)
	if c.state == stateIdle {
		c.state = stateExecuting
		go c.drain()
	}
	c.mu.Unlock()

	select {
	case res := <-req.done:
		return res.body, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Err returns the latched error, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.fail(ErrClosed)
	return nil
}

func (c *Conn) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || c.err != nil {
			if c.err == nil {
				c.state = stateIdle
			}
			c.mu.Unlock()
			return
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		body, err := c.run(req.command)
		if err != nil {
			req.done <- result{err: err}
			c.fail(err)
			return
		}
		req.done <- result{body: body}
	}
}

func (c *Conn) run(command string) (string, error) {
	conn, authenticated, err := c.session()
	if err != nil {
		return "", err
	}

	if !authenticated {
		c.setState(stateAuthenticating)
		if err := c.authenticate(conn); err != nil {
			return "", err
		}
	}

	c.setState(stateExecuting)
	return c.exec(conn, command)
}

// session returns the socket, dialing it on first use.
func (c *Conn) session() (net.Conn, bool, error) {
	c.mu.Lock()
	if c.conn != nil {
		conn, authenticated := c.conn, c.authenticated
		c.mu.Unlock()
		return conn, authenticated, nil
	}
	c.state = stateConnecting
	c.mu.Unlock()

	c.logger.Debug().Msg("connecting")
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return nil, false, fmt.Errorf("failed to dial %s: %w", c.addr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		conn.Close()
		return nil, false, c.err
	}
	c.conn = conn
	return conn, false, nil
}

func (c *Conn) setState(s state) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		c.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("state changed")
	}
}

func (c *Conn) nextID() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestID++
	if c.requestID <= 0 {
		c.requestID = 1
	}
	return c.requestID
}

func (c *Conn) write(conn net.Conn, packets ...packet) error {
	var buf bytes.Buffer
	for _, p := range packets {
		buf.Write(p.encode())
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write to %s: %w", c.addr, err)
	}
	return nil
}

func (c *Conn) read(conn net.Conn) (packet, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return packet{}, err
	}
	p, err := readPacket(conn)
	if err != nil {
		if errors.Is(err, ErrProtocol) {
			return packet{}, err
		}
		return packet{}, fmt.Errorf("failed to read from %s: %w", c.addr, err)
	}
	return p, nil
}

// authenticate sends AUTH. The server answers with one empty response packet
// followed by the AUTH_RESPONSE, whose id is -1 on a bad password.
func (c *Conn) authenticate(conn net.Conn) error {
	id := c.nextID()
	if err := c.write(conn, packet{id: id, typ: typeAuth, body: []byte(c.password)}); err != nil {
		return err
	}

	for junk := 0; ; junk++ {
		p, err := c.read(conn)
		if err != nil {
			return err
		}

		if p.typ != typeAuthResponse {
			if junk > 0 {
				return fmt.Errorf("%w: unexpected packet type %d during auth", ErrProtocol, p.typ)
			}
			continue
		}

		switch p.id {
		case -1:
			c.logger.Warn().Msg("authentication rejected")
			return ErrAuthFailed
		case id:
			c.mu.Lock()
			c.authenticated = true
			c.mu.Unlock()
			c.logger.Debug().Msg("authenticated")
			return nil
		default:
			return fmt.Errorf("%w: auth response id %d, want %d", ErrProtocol, p.id, id)
		}
	}
}

// exec sends the command followed by an empty response packet used as a
// marker. The server echoes the marker and then sends a packet with body
// 0x01, both carrying the marker id. Everything before the echo is the
// response.
func (c *Conn) exec(conn net.Conn, command string) (string, error) {
	id := c.nextID()
	marker := c.nextID()

	err := c.write(conn,
		packet{id: id, typ: typeExecCommand, body: []byte(command)},
		packet{id: marker, typ: typeCommandResponse},
	)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	echoed := false
	for {
		p, err := c.read(conn)
		if err != nil {
			return "", err
		}

		switch {
		case p.id == marker && !echoed:
			if len(p.body) != 0 {
				return "", fmt.Errorf("%w: marker echo has a body", ErrProtocol)
			}
			echoed = true
		case p.id == marker && p.terminator():
			return body.String(), nil
		case echoed:
			return "", fmt.Errorf("%w: packet id %d after marker echo", ErrProtocol, p.id)
		case p.id != id:
			return "", fmt.Errorf("%w: response id %d, want %d", ErrProtocol, p.id, id)
		default:
			body.Write(p.body)
		}
	}
}

// fail latches err, closes the socket and fails everything still queued.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	latched := c.err
	pending := c.queue
	c.queue = nil
	prev := c.state
	c.state = stateFailed
	conn := c.conn
	c.conn = nil
	c.authenticated = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !errors.Is(latched, ErrClosed) {
		c.logger.Error().Err(latched).Stringer("state", prev).Int("dropped", len(pending)).Msg("connection failed")
	}
	for _, req := range pending {
		req.done <- result{err: latched}
	}
}

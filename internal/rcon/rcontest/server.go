// Package rcontest provides an in-process RCON server for tests.
package rcontest

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
)

const (
	typeAuth            int32 = 3
	typeAuthResponse    int32 = 2
	typeCommandResponse int32 = 0
)

// Server accepts any number of connections and authenticates them against
// its password. Received commands are recorded in order.
type Server struct {
	password string
	respond  func(command string) string

	ln       net.Listener
	mu       sync.Mutex
	commands []string
	wg       sync.WaitGroup
}

func NewServer(password string) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{password: password, ln: ln}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *Server) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// SetResponder sets the body returned for each command. Without one every
// command gets an empty response.
func (s *Server) SetResponder(f func(command string) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = f
}

// Commands returns a copy of every command received so far.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) Close() {
	s.ln.Close()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	id, typ, body, err := read(conn)
	if err != nil || typ != typeAuth {
		return
	}
	write(conn, id, typeCommandResponse, nil)
	if string(body) != s.password {
		write(conn, -1, typeAuthResponse, nil)
		return
	}
	write(conn, id, typeAuthResponse, nil)

	for {
		id, _, body, err := read(conn)
		if err != nil {
			return
		}
		marker, _, _, err := read(conn)
		if err != nil {
			return
		}

		command := string(body)
		s.mu.Lock()
		s.commands = append(s.commands, command)
		respond := s.respond
		s.mu.Unlock()

		if respond != nil {
			if out := respond(command); out != "" {
				write(conn, id, typeCommandResponse, []byte(out))
			}
		}
		write(conn, marker, typeCommandResponse, nil)
		write(conn, marker, typeCommandResponse, []byte{0x01})
	}
}

func read(r io.Reader) (id, typ int32, body []byte, err error) {
	var length int32
	if err = binary.Read(r, binary.LittleEndian, &length); err != nil {
		return
	}
	data := make([]byte, length)
	if _, err = io.ReadFull(r, data); err != nil {
		return
	}
	id = int32(binary.LittleEndian.Uint32(data[0:4]))
	typ = int32(binary.LittleEndian.Uint32(data[4:8]))
	body = bytes.TrimRight(data[8:], "\x00")
	return
}

func write(w io.Writer, id, typ int32, body []byte) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, int32(10+len(body)))
	_ = binary.Write(&buf, binary.LittleEndian, id)
	_ = binary.Write(&buf, binary.LittleEndian, typ)
	buf.Write(body)
	buf.Write([]byte{0, 0})
	_, _ = w.Write(buf.Bytes())
}

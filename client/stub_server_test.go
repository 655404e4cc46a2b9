package client_test

import (
	"bufio"
	"encoding/json"
	"io/ioutil"
	"net"
	"path/filepath"
	"sync"

	. "github.com/onsi/gomega"

	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/socket"
)

// stubServer is a scripted serving peer. It accepts connections on a
// throwaway unix socket, surfaces every decoded request on Requests,
// and writes whatever the test tells it to.
type stubServer struct {
	Path     string
	Requests chan protocol.Request

	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
	done bool
}

func newStubServer() *stubServer {
	dir, err := ioutil.TempDir("", "beacon-test")
	Expect(err).To(Succeed())

	path := filepath.Join(dir, "beacon.sock")
	listener, err := net.Listen("unix", path)
	Expect(err).To(Succeed())

	s := &stubServer{
		Path:     path,
		Requests: make(chan protocol.Request, 32),
		listener: listener,
	}

	go s.acceptLoop()

	return s
}

func (s *stubServer) Config() socket.Config {
	return socket.Config{Kind: socket.KindIPC, Path: s.Path}
}

// Respond writes one response frame on the current connection.
func (s *stubServer) Respond(resp *protocol.Response) {
	frame, err := protocol.Encode(resp)
	Expect(err).To(Succeed())
	s.SendRaw(frame)
}

// SendRaw writes arbitrary bytes on the current connection.
func (s *stubServer) SendRaw(data []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	Expect(conn).NotTo(BeNil())
	_, err := conn.Write(data)
	Expect(err).To(Succeed())
}

// DropConn closes the current connection, simulating an unexpected
// socket close on the peer side.
func (s *stubServer) DropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *stubServer) Close() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	s.DropConn()
	s.listener.Close()
}

func (s *stubServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()

		go s.readLoop(conn)
	}
}

func (s *stubServer) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req protocol.Request
		if jsonErr := json.Unmarshal(line, &req); jsonErr != nil {
			continue
		}

		s.Requests <- req
	}
}

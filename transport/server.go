// Package transport implements the serving peer of the beacon
// protocol: it owns the listener, accepts agent connections, and runs
// decoded requests through the command dispatcher.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/beacon/socket"
)

// Server accepts agent connections on one IPC or TCP endpoint and
// serves commands until closed.
type Server struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	cfg        socket.Config
	dispatcher *Dispatcher

	mu          sync.Mutex
	listener    net.Listener
	activeConns map[*ServerConn]struct{}

	log   *zap.Logger
	trace bool
}

func NewServer(options Options) *Server {
	return &Server{
		cfg:         options.Config,
		dispatcher:  options.Dispatcher,
		activeConns: make(map[*ServerConn]struct{}),
		trace:       options.Trace,
		log:         options.Log,
	}
}

// Dispatcher returns the dispatcher the server routes requests to, so
// the host application can register handlers after construction.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Start binds the endpoint and begins accepting connections. It
// returns once the listener is bound; serving happens on background
// goroutines until Close or context cancellation.
func (s *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel

	listener, err := socket.Listen(s.cfg)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("Listening for agent connections",
		zap.String("network", s.cfg.Network()),
		zap.String("address", listener.Addr().String()))

	s.stopWaiter.Add(1)
	go func() {
		defer s.stopWaiter.Done()

		if err := s.acceptLoop(ctx, listener); err != nil {
			s.log.Error("Accept loop failed", zap.Error(err))
		}
	}()

	return nil
}

// Close immediately closes the listener and all active connections.
func (s *Server) Close() (err error) {
	s.log.Info("Stopping beacon server")

	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	listener := s.listener
	conns := make([]*ServerConn, 0, len(s.activeConns))
	for conn := range s.activeConns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		err = multierr.Append(err, listener.Close())
	}

	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}

	s.stopWaiter.Wait()
	s.log.Info("Beacon server stopped")

	return err
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	var loopWaiter sync.WaitGroup

	go func() {
		<-ctx.Done()

		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn("Listener did not close cleanly", zap.Error(err))
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.log.Info("Stopped accepting new connections")
				loopWaiter.Wait()
				return nil
			}

			loopWaiter.Wait()
			return err
		}

		s.log.Info("Accepted agent connection",
			zap.String("remote", remoteName(conn)))

		serverConn := NewServerConn(ctx, conn, s.dispatcher, s.trace, s.log.Named("conn"))
		s.addConn(serverConn)

		loopWaiter.Add(1)
		go func() {
			defer loopWaiter.Done()
			defer s.removeConn(serverConn)

			serverConn.Start()
		}()
	}
}

func (s *Server) addConn(conn *ServerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeConns[conn] = struct{}{}
}

func (s *Server) removeConn(conn *ServerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.activeConns, conn)
}

// remoteName names the peer for logs. Unix sockets report an empty
// remote address, which logs poorly.
func remoteName(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil || addr.String() == "" || addr.String() == "@" {
		return "local"
	}

	return addr.String()
}

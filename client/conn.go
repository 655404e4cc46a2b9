// Package client implements the requesting peer of the beacon
// transport: a reconnecting connection to the desktop application plus
// the SendCommand facade that callers use without knowing about
// sockets.
package client

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/luma/beacon/internal/clock"
	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/socket"
)

// State is the connection lifecycle phase a Conn is in.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var (
	// ErrClosed rejects work attempted after Close.
	ErrClosed = errors.New("Connection has been closed")

	// ErrNotConnected rejects a write when no socket is open.
	ErrNotConnected = errors.New("Not connected")
)

const readChunkSize = 4096

// Conn is one logical connection to the serving peer, intended to be
// shared by many concurrent callers. It owns the socket, the receive
// buffer, and the pending-request table; reconnection replaces the
// first two but never the table, so requests pending across a
// reconnect stay pending until they settle or time out.
type Conn struct {
	cfg     socket.Config
	opts    Options
	clock   clock.Clock
	pending *pendingTable

	mu             sync.Mutex
	state          State
	conn           net.Conn
	attempt        chan struct{}
	attemptErr     error
	reconnects     int
	reconnectTimer clock.Timer
	closed         bool

	writeMu sync.Mutex

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	log *zap.Logger
}

// New builds a Conn for the configured endpoint. No I/O happens until
// Connect or the first SendCommand.
func New(cfg socket.Config, opts Options) *Conn {
	opts = opts.withDefaults()

	return &Conn{
		cfg:     cfg,
		opts:    opts,
		clock:   opts.Clock,
		pending: newPendingTable(opts.Clock, opts.Timeout),
		state:   StateDisconnected,
		entropy: ulid.Monotonic(rand.Reader, 0),
		log:     opts.Log,
	}
}

// State reports the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Pending reports how many requests are awaiting a response.
func (c *Conn) Pending() int {
	return c.pending.len()
}

// Connect ensures the socket is open. Calling it while connected is a
// no-op; calling it while another connect is in flight attaches to
// that attempt instead of racing a second socket open.
func (c *Conn) Connect(ctx context.Context) error {
	for {
		c.mu.Lock()

		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}

		switch c.state {
		case StateConnected:
			c.mu.Unlock()
			return nil

		case StateConnecting:
			attempt := c.attempt
			c.mu.Unlock()

			select {
			case <-attempt:
				c.mu.Lock()
				err := c.attemptErr
				c.mu.Unlock()
				return err

			case <-ctx.Done():
				return ctx.Err()
			}

		case StateDisconnected:
			c.attempt = make(chan struct{})
			c.state = StateConnecting
			c.mu.Unlock()

			return c.dial(ctx)
		}
	}
}

// SendCommand issues one command and suspends the caller until its
// response arrives, the write fails, or the timeout fires. Exactly one
// of those settles the call.
//
// payload may be any JSON-marshallable value; the documented bare
// string shorthand is normalized to {"window_label": <string>} before
// it hits the wire.
func (c *Conn) SendCommand(ctx context.Context, command protocol.Command, payload interface{}) (json.RawMessage, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("Failed to marshal payload: %w", err)
		}
	}

	normalized, err := protocol.NormalizePayload(raw)
	if err != nil {
		return nil, err
	}

	id, err := c.nextRequestID()
	if err != nil {
		return nil, err
	}

	done := c.pending.register(id)

	frame, err := protocol.Encode(&protocol.Request{
		ID:      id,
		Command: command,
		Payload: normalized,
	})
	if err != nil {
		c.pending.reject(id, err)
	} else if werr := c.write(frame); werr != nil {
		// A failed write kills only this request. The socket itself is
		// left to the read loop, which notices if it actually died.
		c.pending.reject(id, fmt.Errorf("Failed to write request: %w", werr))
	}

	select {
	case res := <-done:
		return res.data, res.err

	case <-ctx.Done():
		c.pending.reject(id, ctx.Err())
		return nil, ctx.Err()
	}
}

// Close tears the connection down, cancelling any scheduled reconnect
// and rejecting every pending request.
func (c *Conn) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.state = StateDisconnected

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.pending.rejectAll(ErrClosed)

	if conn != nil {
		return conn.Close()
	}

	return nil
}

func (c *Conn) dial(ctx context.Context) error {
	conn, err := socket.Dial(ctx, c.cfg)

	c.mu.Lock()

	if c.closed {
		c.attemptErr = ErrClosed
		close(c.attempt)
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}

	if err != nil {
		c.state = StateDisconnected
		c.attemptErr = fmt.Errorf("Failed to connect to %s: %w", c.cfg.Address(), err)
		err = c.attemptErr
		close(c.attempt)
		c.mu.Unlock()
		return err
	}

	c.conn = conn
	c.state = StateConnected
	c.reconnects = 0
	c.attemptErr = nil
	close(c.attempt)
	c.mu.Unlock()

	c.log.Info("Connected",
		zap.String("network", c.cfg.Network()),
		zap.String("address", c.cfg.Address()))

	// Each connection gets a fresh receive buffer; a residue from a
	// previous socket can never complete on this one.
	go c.readLoop(conn, protocol.NewDecoder())

	return nil
}

func (c *Conn) readLoop(conn net.Conn, dec *protocol.Decoder) {
	log := c.log.Named("readLoop")
	buf := make([]byte, readChunkSize)

	for {
		n, err := conn.Read(buf)

		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])

			for _, frame := range frames {
				c.dispatch(frame)
			}

			if errors.Is(ferr, protocol.ErrBufferOverflow) {
				log.Error("Receive buffer overflowed, failing all pending requests",
					zap.Int("pending", c.pending.len()))
				c.pending.rejectAll(ferr)
			}
		}

		if err != nil {
			log.Warn("Socket read ended", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}
	}
}

// dispatch correlates one decoded response with the request awaiting
// it: by echoed id when the peer supplies one, otherwise the oldest
// still-pending request on the assumption the peer answers in order.
func (c *Conn) dispatch(frame json.RawMessage) {
	var resp protocol.Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		c.log.Warn("Discarding undecodable response frame", zap.Error(err))
		return
	}

	id := resp.ID
	if id == "" {
		oldest, ok := c.pending.oldest()
		if !ok {
			c.log.Warn("Received a response with no request pending")
			return
		}
		id = oldest
	}

	if err := resp.ErrorOrNil(); err != nil {
		c.pending.reject(id, err)
		return
	}

	c.pending.resolve(id, resp.Data)
}

// handleDisconnect transitions to disconnected after the socket dies
// and schedules a bounded automatic reconnect. Pending requests stay
// registered; they either resolve after a successful reconnect or time
// out like any other request.
func (c *Conn) handleDisconnect(conn net.Conn) {
	c.mu.Lock()

	if c.conn != conn {
		// A newer socket already replaced this one.
		c.mu.Unlock()
		return
	}

	c.conn = nil
	c.state = StateDisconnected

	if c.closed {
		c.mu.Unlock()
		return
	}

	c.scheduleReconnectLocked()
	c.mu.Unlock()

	conn.Close()
}

// scheduleReconnectLocked arms the delayed reconnect timer if attempts
// remain. Callers hold c.mu.
func (c *Conn) scheduleReconnectLocked() {
	if c.reconnects >= c.opts.MaxReconnects {
		c.log.Warn("Reconnect attempts exhausted, staying disconnected",
			zap.Int("attempts", c.reconnects))
		return
	}

	c.reconnects++
	attempt := c.reconnects

	c.log.Info("Scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", c.opts.ReconnectDelay))

	c.reconnectTimer = c.clock.AfterFunc(c.opts.ReconnectDelay, func() {
		go c.redial(attempt)
	})
}

func (c *Conn) redial(attempt int) {
	err := c.Connect(context.Background())
	if err == nil {
		return
	}

	c.log.Warn("Reconnect attempt failed",
		zap.Int("attempt", attempt),
		zap.Error(err))

	c.mu.Lock()
	if !c.closed && c.state == StateDisconnected {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
}

func (c *Conn) write(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := conn.Write(frame)
	return err
}

// nextRequestID generates a ULID: millisecond timestamp plus random
// suffix, monotonic within a tick, so identifiers sort in submission
// order. The legacy FIFO correlation path depends on that.
func (c *Conn) nextRequestID() (string, error) {
	c.idMu.Lock()
	defer c.idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(c.clock.Now()), c.entropy)
	if err != nil {
		return "", fmt.Errorf("Failed to generate request id: %w", err)
	}

	return id.String(), nil
}

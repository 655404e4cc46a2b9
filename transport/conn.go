package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/beacon/protocol"
)

const (
	readChunkSize  = 4096
	writeQueueSize = 127
)

type closeReader interface {
	CloseRead() error
}

type closeWriter interface {
	CloseWrite() error
}

// ServerConn serves one agent connection. Requests are handled
// sequentially in arrival order on the read loop, so responses leave
// in that same order; the write loop only exists so a slow agent
// cannot wedge request handling mid-write.
type ServerConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	closeOnce  sync.Once

	conn       net.Conn
	dispatcher *Dispatcher
	decoder    *protocol.Decoder

	writeQueue chan []byte

	log   *zap.Logger
	trace bool
}

func NewServerConn(
	parentCtx context.Context,
	conn net.Conn,
	dispatcher *Dispatcher,
	trace bool,
	log *zap.Logger,
) *ServerConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &ServerConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		dispatcher: dispatcher,
		decoder:    protocol.NewDecoder(),
		writeQueue: make(chan []byte, writeQueueSize),
		log:        log,
		trace:      trace,
	}
}

// Close tears the connection down and waits for its loops to exit.
func (t *ServerConn) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.conn.Close()

		// Once close is called, the writeQueue can no longer be used.
		// We need to wait until the read/write loops have exited
		// before closing this channel.
		t.loopWaiter.Wait()
		close(t.writeQueue)
	})

	return nil
}

// Start runs the read and write loops until the agent disconnects or
// the connection is closed.
func (t *ServerConn) Start() {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		t.readLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.writeLoop()
	}()

	t.loopWaiter.Wait()
}

func (t *ServerConn) readLoop() {
	log := t.log.Named("readLoop")

	defer func() {
		// Stop reading, but allow queued responses to drain.
		if cr, ok := t.conn.(closeReader); ok {
			if err := cr.CloseRead(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Debug("Failed to close reads on connection cleanly", zap.Error(err))
			}
		}

		t.cancel()
		log.Info("Read loop exited")
	}()

	buf := make([]byte, readChunkSize)

	for {
		n, err := t.conn.Read(buf)

		if n > 0 {
			if t.trace {
				log.Debug("Read", zap.ByteString("data", buf[:n]))
			}

			frames, ferr := t.decoder.Feed(buf[:n])

			for _, frame := range frames {
				t.handleFrame(frame)
			}

			if errors.Is(ferr, protocol.ErrBufferOverflow) {
				// An agent that streams this much undecodable data is
				// not speaking the protocol. Drop it.
				log.Warn("Receive buffer overflowed, dropping connection")
				return
			}
		}

		if err != nil {
			if t.ctx.Err() == nil && !isClosedConn(err) {
				log.Warn("Failed to read agent request", zap.Error(err))
			} else {
				log.Info("Agent disconnected")
			}
			return
		}
	}
}

// handleFrame decodes one request, runs it through the dispatcher, and
// queues the response. A frame that is valid JSON but not a usable
// request envelope answers a failure response and keeps the
// connection serving.
func (t *ServerConn) handleFrame(frame json.RawMessage) {
	var req protocol.Request

	if err := json.Unmarshal(frame, &req); err != nil {
		t.respond(protocol.ErrResponse("", fmt.Sprintf("Invalid request format: %v", err)))
		return
	}

	if req.Command == "" {
		t.respond(protocol.ErrResponse(req.ID, "Invalid request format: missing command"))
		return
	}

	payload, err := protocol.NormalizePayload(req.Payload)
	if err != nil {
		t.respond(protocol.ErrResponse(req.ID, fmt.Sprintf("Invalid request format: %v", err)))
		return
	}

	req.Payload = payload

	t.log.Info("Processing command", zap.String("command", string(req.Command)))
	t.respond(t.dispatcher.Dispatch(t.ctx, &req))
}

func (t *ServerConn) respond(resp *protocol.Response) {
	frame, err := protocol.Encode(resp)
	if err != nil {
		t.log.Error("Failed to encode response", zap.Error(err))
		return
	}

	if t.isRunning() {
		t.writeQueue <- frame
	}
}

func (t *ServerConn) writeLoop() {
	log := t.log.Named("writeLoop")

	defer func() {
		if cw, ok := t.conn.(closeWriter); ok {
			if err := cw.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Debug("Failed to close writes on connection cleanly", zap.Error(err))
			}
		}

		t.cancel()
		log.Info("Write loop exited")
	}()

	for {
		select {
		case <-t.ctx.Done():
			return

		case frame := <-t.writeQueue:
			if frame == nil {
				return
			}

			if t.trace {
				log.Debug("Write", zap.ByteString("data", frame))
			}

			if _, err := t.conn.Write(frame); err != nil {
				if !isClosedConn(err) {
					log.Warn("Failed to write response", zap.Error(err))
				}
				return
			}
		}
	}
}

// isRunning returns true if Close has not been called.
func (t *ServerConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		return false

	default:
		return true
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

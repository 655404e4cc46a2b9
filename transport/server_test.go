package transport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/socket"
	"github.com/luma/beacon/transport"
)

func makeServer(dispatcher *transport.Dispatcher) (*transport.Server, socket.Config) {
	dir, err := ioutil.TempDir("", "beacon-server-test")
	Expect(err).To(Succeed())

	cfg := socket.Config{
		Kind: socket.KindIPC,
		Path: filepath.Join(dir, "beacon.sock"),
	}

	server := transport.NewServer(transport.Options{
		Config:     cfg,
		Dispatcher: dispatcher,
		Log:        zap.NewNop(),
	})

	Expect(server.Start(context.Background())).To(Succeed())
	return server, cfg
}

func readResponse(reader *bufio.Reader) protocol.Response {
	line, err := reader.ReadBytes('\n')
	Expect(err).To(Succeed())

	var resp protocol.Response
	Expect(json.Unmarshal(line, &resp)).To(Succeed())
	return resp
}

var _ = Describe("transport / Server", func() {
	var dispatcher *transport.Dispatcher

	BeforeEach(func() {
		dispatcher = transport.NewDispatcher()
		dispatcher.Register(protocol.Ping, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			return "pong", nil
		})
		dispatcher.Register("echo_label", func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			var p struct {
				WindowLabel string `json:"window_label"`
			}
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, err
			}
			return p.WindowLabel, nil
		})
	})

	It("answers ping with pong, echoing the request id", func() {
		server, cfg := makeServer(dispatcher)
		defer func() {
			Expect(server.Close()).To(Succeed())
		}()

		conn, err := net.Dial("unix", cfg.Path)
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write([]byte(`{"id":"01A","command":"ping","payload":{}}` + "\n"))
		Expect(err).To(Succeed())

		resp := readResponse(bufio.NewReader(conn))
		Expect(resp.Success).To(BeTrue())
		Expect(resp.ID).To(Equal("01A"))
		Expect(string(resp.Data)).To(MatchJSON(`"pong"`))
	})

	It("normalizes a bare string payload before the handler sees it", func() {
		server, cfg := makeServer(dispatcher)
		defer server.Close()

		conn, err := net.Dial("unix", cfg.Path)
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write([]byte(`{"command":"echo_label","payload":"main"}` + "\n"))
		Expect(err).To(Succeed())

		resp := readResponse(bufio.NewReader(conn))
		Expect(resp.Success).To(BeTrue())
		Expect(string(resp.Data)).To(MatchJSON(`"main"`))
	})

	It("reports unknown commands without dropping the connection", func() {
		server, cfg := makeServer(dispatcher)
		defer server.Close()

		conn, err := net.Dial("unix", cfg.Path)
		Expect(err).To(Succeed())
		defer conn.Close()

		reader := bufio.NewReader(conn)

		_, err = conn.Write([]byte(`{"command":"warp_reality","payload":{}}` + "\n"))
		Expect(err).To(Succeed())

		resp := readResponse(reader)
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Error).To(ContainSubstring("warp_reality"))

		// Still serving.
		_, err = conn.Write([]byte(`{"command":"ping","payload":{}}` + "\n"))
		Expect(err).To(Succeed())
		Expect(readResponse(reader).Success).To(BeTrue())
	})

	It("answers a malformed request envelope and keeps serving", func() {
		server, cfg := makeServer(dispatcher)
		defer server.Close()

		conn, err := net.Dial("unix", cfg.Path)
		Expect(err).To(Succeed())
		defer conn.Close()

		reader := bufio.NewReader(conn)

		// Valid JSON, but no command.
		_, err = conn.Write([]byte(`{"payload":{}}` + "\n"))
		Expect(err).To(Succeed())

		resp := readResponse(reader)
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Error).To(ContainSubstring("Invalid request format"))

		_, err = conn.Write([]byte(`{"command":"ping"}` + "\n"))
		Expect(err).To(Succeed())
		Expect(readResponse(reader).Success).To(BeTrue())
	})

	It("answers pipelined requests in arrival order", func() {
		server, cfg := makeServer(dispatcher)
		defer server.Close()

		conn, err := net.Dial("unix", cfg.Path)
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write([]byte(
			`{"id":"01A","command":"ping","payload":{}}` + "\n" +
				`{"id":"01B","command":"echo_label","payload":"one"}` + "\n" +
				`{"id":"01C","command":"echo_label","payload":"two"}` + "\n"))
		Expect(err).To(Succeed())

		reader := bufio.NewReader(conn)
		Expect(readResponse(reader).ID).To(Equal("01A"))
		Expect(readResponse(reader).ID).To(Equal("01B"))
		Expect(readResponse(reader).ID).To(Equal("01C"))
	})

	It("serves requests split across arbitrary writes", func() {
		server, cfg := makeServer(dispatcher)
		defer server.Close()

		conn, err := net.Dial("unix", cfg.Path)
		Expect(err).To(Succeed())
		defer conn.Close()

		frame := []byte(`{"command":"ping","payload":{}}` + "\n")
		for _, b := range frame {
			_, err = conn.Write([]byte{b})
			Expect(err).To(Succeed())
		}

		Expect(readResponse(bufio.NewReader(conn)).Success).To(BeTrue())
	})

	It("listens on tcp when configured for it", func() {
		server := transport.NewServer(transport.Options{
			Config:     socket.Config{Kind: socket.KindTCP, Host: "127.0.0.1", Port: 16996},
			Dispatcher: dispatcher,
			Log:        zap.NewNop(),
		})
		Expect(server.Start(context.Background())).To(Succeed())
		defer server.Close()

		conn, err := net.Dial("tcp", "127.0.0.1:16996")
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.Write([]byte(`{"command":"ping","payload":{}}` + "\n"))
		Expect(err).To(Succeed())
		Expect(readResponse(bufio.NewReader(conn)).Success).To(BeTrue())
	})

	It("replaces a stale socket file left by a dead process", func() {
		dir, err := ioutil.TempDir("", "beacon-stale-test")
		Expect(err).To(Succeed())

		cfg := socket.Config{Kind: socket.KindIPC, Path: filepath.Join(dir, "beacon.sock")}

		// Leave a socket file behind with nothing listening on it, the
		// way a crashed process would.
		stale, err := net.Listen("unix", cfg.Path)
		Expect(err).To(Succeed())
		stale.(*net.UnixListener).SetUnlinkOnClose(false)
		stale.Close()

		server := transport.NewServer(transport.Options{
			Config:     cfg,
			Dispatcher: dispatcher,
			Log:        zap.NewNop(),
		})
		Expect(server.Start(context.Background())).To(Succeed())
		Expect(server.Close()).To(Succeed())
	})
})

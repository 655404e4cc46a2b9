package transport_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/beacon/protocol"
	"github.com/luma/beacon/transport"
)

var _ = Describe("transport / Dispatcher", func() {
	var dispatcher *transport.Dispatcher

	BeforeEach(func() {
		dispatcher = transport.NewDispatcher()
	})

	It("wraps a handler value into a success response", func() {
		dispatcher.Register(protocol.Ping, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			return "pong", nil
		})

		resp := dispatcher.Dispatch(context.Background(), &protocol.Request{ID: "1", Command: protocol.Ping})
		Expect(resp.Success).To(BeTrue())
		Expect(resp.ID).To(Equal("1"))
		Expect(string(resp.Data)).To(MatchJSON(`"pong"`))
	})

	It("wraps a handler failure into an error response", func() {
		dispatcher.Register(protocol.GetDOM, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			return nil, errors.New("window not found")
		})

		resp := dispatcher.Dispatch(context.Background(), &protocol.Request{ID: "2", Command: protocol.GetDOM})
		Expect(resp.Success).To(BeFalse())
		Expect(resp.ID).To(Equal("2"))
		Expect(resp.Error).To(Equal("window not found"))
	})

	It("names the command in the unknown-command error", func() {
		resp := dispatcher.Dispatch(context.Background(), &protocol.Request{Command: "warp_reality"})
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Error).To(ContainSubstring("warp_reality"))
	})

	It("passes the payload through to the handler", func() {
		var seen json.RawMessage

		dispatcher.Register(protocol.ExecuteJS, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			seen = payload
			return nil, nil
		})

		dispatcher.Dispatch(context.Background(), &protocol.Request{
			Command: protocol.ExecuteJS,
			Payload: json.RawMessage(`{"code":"1+1"}`),
		})

		Expect(string(seen)).To(MatchJSON(`{"code":"1+1"}`))
	})

	It("lists registered commands", func() {
		dispatcher.Register(protocol.Ping, func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
			return "pong", nil
		})

		Expect(dispatcher.Commands()).To(ConsistOf(protocol.Ping))
	})
})

package protocol_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/beacon/protocol"
)

var _ = Describe("Envelope", func() {
	Describe("NormalizePayload()", func() {
		It("turns a bare string into a window_label object", func() {
			normalized, err := protocol.NormalizePayload(json.RawMessage(`"main"`))
			Expect(err).To(Succeed())
			Expect(string(normalized)).To(MatchJSON(`{"window_label":"main"}`))
		})

		It("passes objects through untouched", func() {
			raw := json.RawMessage(`{"window_label":"main","x":1}`)
			normalized, err := protocol.NormalizePayload(raw)
			Expect(err).To(Succeed())
			Expect(normalized).To(Equal(raw))
		})

		It("treats an absent payload as the empty object", func() {
			normalized, err := protocol.NormalizePayload(nil)
			Expect(err).To(Succeed())
			Expect(string(normalized)).To(MatchJSON(`{}`))
		})

		It("rejects payloads that are neither object nor string", func() {
			_, err := protocol.NormalizePayload(json.RawMessage(`[1,2]`))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Response", func() {
		It("reports no error on success", func() {
			resp, err := protocol.OkResponse("abc", "pong")
			Expect(err).To(Succeed())
			Expect(resp.ErrorOrNil()).To(Succeed())
		})

		It("carries the peer supplied error message", func() {
			resp := protocol.ErrResponse("abc", "bad selector")
			Expect(resp.ErrorOrNil()).To(MatchError("bad selector"))
		})

		It("falls back to the default message when the peer gives none", func() {
			resp := &protocol.Response{Success: false}
			Expect(resp.ErrorOrNil()).To(MatchError(protocol.DefaultErrorMessage))
		})

		It("echoes the request id", func() {
			resp := protocol.ErrResponse("01F8ZZ", "")
			Expect(resp.ID).To(Equal("01F8ZZ"))
			Expect(resp.Error).To(Equal(protocol.DefaultErrorMessage))
		})
	})
})

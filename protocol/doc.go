package protocol

// This package implements parsing and serialising of the frames that
// Beacon uses to carry automation commands between an agent and a
// running desktop application.
//
// This protocol aims to be
//
// - trivial to implement from any language with a JSON library
// - resilient to arbitrary chunking by the underlying byte stream
// - human readable on the wire
//
// === Framing
//
// Every frame is one JSON value encoded as UTF-8 text and terminated by
// a single '\n'. There is no length prefix and no binary framing. JSON
// string encoding escapes literal newlines, so a '\n' byte never occurs
// inside a valid frame and any '\n' is a safe split point.
//
// - `Request`  - an agent instruction to the application.
// - `Response` - the application's answer to a single Request.
//
// === Requests
//
//   ```
//   {"id":"01F8...","command":"ping","payload":{}}\n
//   ```
//
// `payload` is normally a JSON object. As a documented shorthand it may
// be a bare string, which the receiving side normalizes into
// `{"window_label": <string>}` before it reaches any handler.
//
// === Responses
//
//   ```
//   {"id":"01F8...","success":true,"data":"pong"}\n
//   {"success":false,"error":"bad selector"}\n
//   ```
//
// `id` echoes the originating request so the requester can correlate
// without ordering assumptions. Legacy peers omit it, in which case the
// requester falls back to matching responses to requests in submission
// order, which is only sound while the peer answers strictly in the
// order it received commands.
//
// A failed response carries a human readable `error`. When a peer
// reports failure without one, DefaultErrorMessage stands in.
//
// === Partial frames
//
// The Decoder accumulates bytes until a '\n'-terminated slice parses as
// JSON. A terminated slice that does not parse is retained, not
// discarded, on the assumption that the rest of the frame has simply
// not arrived yet. If the residue grows past MaxBufferSize without
// yielding a frame the whole buffer is dropped and ErrBufferOverflow is
// reported so the owner can fail its in-flight work.

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// MaxBufferSize is the hard ceiling on bytes the Decoder will hold
	// while waiting for a frame to complete. Crossing it drops the
	// whole buffer, trading any legitimately-partial frame for a bound
	// on what a runaway or adversarial peer can make us hold.
	MaxBufferSize = 10_000_000

	// Delimiter terminates every frame.
	Delimiter = '\n'
)

// ErrBufferOverflow is reported by Decoder.Feed when the residual
// buffer crosses MaxBufferSize without yielding a decodable frame. The
// buffer has already been discarded when it is returned.
var ErrBufferOverflow = errors.New("Receive buffer overflowed without a decodable frame")

// Encode serialises one envelope into a delimiter-terminated frame.
func Encode(v interface{}) ([]byte, error) {
	frame, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode frame: %w", err)
	}

	return append(frame, Delimiter), nil
}

// Decoder incrementally extracts frames from an arbitrarily-chunked
// byte stream. It is not safe for concurrent use; each connection owns
// exactly one Decoder for its lifetime.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a Decoder with an empty receive buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the receive buffer and returns every complete
// frame that can now be decoded, in stream order.
//
// A delimiter-terminated slice that does not parse as JSON is kept
// buffered rather than discarded: the delimiter is assumed to mark how
// much of the stream has arrived, not the end of the logical frame.
// Decoding is therefore idempotent over repeated partial feeds and
// lossless over any chunking of the same bytes.
//
// When the retained residue crosses MaxBufferSize, Feed discards the
// buffer and returns ErrBufferOverflow alongside any frames decoded
// from this chunk. The Decoder remains usable afterwards.
func (d *Decoder) Feed(chunk []byte) ([]json.RawMessage, error) {
	d.buf = append(d.buf, chunk...)

	var frames []json.RawMessage

	for {
		end := d.nextFrameEnd()
		if end < 0 {
			break
		}

		frame := make(json.RawMessage, end)
		copy(frame, d.buf[:end])
		frames = append(frames, frame)

		d.buf = d.buf[end+1:]
	}

	if len(d.buf) > MaxBufferSize {
		d.buf = nil
		return frames, ErrBufferOverflow
	}

	return frames, nil
}

// nextFrameEnd finds the delimiter that terminates the first decodable
// frame in the buffer, scanning successive delimiters so that a
// delimiter arriving mid-frame (from chunked I/O) does not truncate it.
// Returns -1 when no complete frame is buffered yet.
func (d *Decoder) nextFrameEnd() int {
	offset := 0

	for {
		i := bytes.IndexByte(d.buf[offset:], Delimiter)
		if i < 0 {
			return -1
		}

		end := offset + i
		if json.Valid(d.buf[:end]) {
			return end
		}

		offset = end + 1
	}
}

// Buffered reports how many undecoded bytes the Decoder is holding.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any buffered partial frame. The owning connection
// calls this when the underlying socket is replaced, since a residue
// from the old stream can never complete on the new one.
func (d *Decoder) Reset() {
	d.buf = nil
}

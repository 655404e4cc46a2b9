package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/sjson"
)

// DefaultErrorMessage stands in when a peer reports failure without
// saying why.
const DefaultErrorMessage = "Command failed without specific error"

var emptyObject = json.RawMessage(`{}`)

// Request is the envelope an agent sends to the serving peer.
//
// ID is optional on the wire; requesters that want order-independent
// correlation set it and the serving peer echoes it back.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope the serving peer answers with.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OkResponse builds a success Response, marshalling data into the
// envelope. id may be empty for legacy peers.
func OkResponse(id string, data interface{}) (*Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("Failed to marshal response data: %w", err)
	}

	return &Response{ID: id, Success: true, Data: raw}, nil
}

// ErrResponse builds a failure Response carrying msg.
func ErrResponse(id string, msg string) *Response {
	if msg == "" {
		msg = DefaultErrorMessage
	}

	return &Response{ID: id, Success: false, Error: msg}
}

// ErrorOrNil returns an error if the response reports failure.
// Otherwise it returns nil.
func (r *Response) ErrorOrNil() error {
	if r.Success {
		return nil
	}

	if r.Error == "" {
		return errors.New(DefaultErrorMessage)
	}

	return errors.New(r.Error)
}

// NormalizePayload collapses the string-or-object payload shorthand
// into a single canonical object shape.
//
// A bare JSON string "main" becomes {"window_label":"main"}. An absent
// payload becomes {}. Objects pass through untouched. Anything else is
// rejected so the ambiguity never travels past the codec boundary.
func NormalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return emptyObject, nil
	}

	switch raw[0] {
	case '{':
		return raw, nil

	case '"':
		var label string
		if err := json.Unmarshal(raw, &label); err != nil {
			return nil, fmt.Errorf("Failed to parse string payload: %w", err)
		}

		normalized, err := sjson.SetBytes([]byte(`{}`), "window_label", label)
		if err != nil {
			return nil, fmt.Errorf("Failed to normalize string payload: %w", err)
		}

		return normalized, nil

	default:
		return nil, fmt.Errorf("Payload must be an object or a string, got %q", string(raw))
	}
}

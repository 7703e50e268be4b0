// Package wire implements the JSON-over-WebSocket encoding PipeGate uses to
// carry HTTP requests and responses between server and client.
//
// Messages are exchanged as WebSocket text frames, each a single JSON object
// distinguished by its "kind" field. Bodies are base64-encoded so the wire
// format stays pure text: trivially inspectable, and safe through any
// intermediary that re-frames WebSocket traffic.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind tags a decoded wire message.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Header is a single (name, value) pair. A slice of Header preserves both
// duplicates and the order headers were received in, which a map[string]string
// cannot.
type Header struct {
	Name  string
	Value string
}

// MarshalJSON encodes a Header as the two-element array the wire format uses.
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Name, h.Value})
}

// UnmarshalJSON decodes a Header from a two-element array.
func (h *Header) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("wire: malformed header pair: %w", err)
	}
	h.Name, h.Value = pair[0], pair[1]
	return nil
}

// RequestMessage is sent server -> client: a public HTTP request to forward
// to the local origin.
type RequestMessage struct {
	RequestID string   `json:"request_id"`
	Method    string   `json:"method"`
	Path      string   `json:"path"`
	Headers   []Header `json:"headers"`
	Body      []byte   `json:"-"`
}

// ResponseMessage is sent client -> server: the local origin's reply to a
// prior RequestMessage, correlated by RequestID.
type ResponseMessage struct {
	RequestID string   `json:"request_id"`
	Status    int      `json:"status"`
	Headers   []Header `json:"headers"`
	Body      []byte   `json:"-"`
}

// wireRequest/wireResponse are the JSON-serializable shapes; Body is base64
// text on the wire but []byte in the Go struct.
type wireRequest struct {
	Kind      Kind     `json:"kind"`
	RequestID string   `json:"request_id"`
	Method    string   `json:"method"`
	Path      string   `json:"path"`
	Headers   []Header `json:"headers"`
	Body      string   `json:"body"`
}

type wireResponse struct {
	Kind      Kind     `json:"kind"`
	RequestID string   `json:"request_id"`
	Status    int      `json:"status"`
	Headers   []Header `json:"headers"`
	Body      string   `json:"body"`
}

// MalformedMessageError reports a decode failure: invalid JSON, an unknown
// kind, a missing required field, an out-of-range status, or a base64 error.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("wire: malformed message: %s", e.Reason)
}

func malformed(reason string) error {
	return &MalformedMessageError{Reason: reason}
}

// EncodeRequest renders a RequestMessage as the JSON text frame to send over
// the WebSocket. Header order and duplicates are preserved.
func EncodeRequest(m RequestMessage) (string, error) {
	if m.Headers == nil {
		m.Headers = []Header{}
	}
	w := wireRequest{
		Kind:      KindRequest,
		RequestID: m.RequestID,
		Method:    m.Method,
		Path:      m.Path,
		Headers:   m.Headers,
		Body:      base64.StdEncoding.EncodeToString(m.Body),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("wire: encode request: %w", err)
	}
	return string(data), nil
}

// EncodeResponse renders a ResponseMessage as the JSON text frame to send
// over the WebSocket.
func EncodeResponse(m ResponseMessage) (string, error) {
	if m.Headers == nil {
		m.Headers = []Header{}
	}
	w := wireResponse{
		Kind:      KindResponse,
		RequestID: m.RequestID,
		Status:    m.Status,
		Headers:   m.Headers,
		Body:      base64.StdEncoding.EncodeToString(m.Body),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("wire: encode response: %w", err)
	}
	return string(data), nil
}

// kindProbe is used to sniff the "kind" field before committing to a full
// decode into RequestMessage or ResponseMessage.
type kindProbe struct {
	Kind Kind `json:"kind"`
}

// Decode parses a wire text frame and returns either a *RequestMessage or a
// *ResponseMessage, depending on the frame's "kind". Any other outcome is a
// *MalformedMessageError.
func Decode(payload string) (any, error) {
	var probe kindProbe
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		return nil, malformed("invalid JSON: " + err.Error())
	}

	switch probe.Kind {
	case KindRequest:
		var w wireRequest
		if err := json.Unmarshal([]byte(payload), &w); err != nil {
			return nil, malformed("invalid request JSON: " + err.Error())
		}
		if w.RequestID == "" {
			return nil, malformed("request missing request_id")
		}
		if w.Method == "" {
			return nil, malformed("request missing method")
		}
		body, err := base64.StdEncoding.DecodeString(w.Body)
		if err != nil {
			return nil, malformed("request body is not valid base64: " + err.Error())
		}
		return &RequestMessage{
			RequestID: w.RequestID,
			Method:    w.Method,
			Path:      w.Path,
			Headers:   w.Headers,
			Body:      body,
		}, nil

	case KindResponse:
		var w wireResponse
		if err := json.Unmarshal([]byte(payload), &w); err != nil {
			return nil, malformed("invalid response JSON: " + err.Error())
		}
		if w.RequestID == "" {
			return nil, malformed("response missing request_id")
		}
		if w.Status < 100 || w.Status > 599 {
			return nil, malformed(fmt.Sprintf("response status %d out of range", w.Status))
		}
		body, err := base64.StdEncoding.DecodeString(w.Body)
		if err != nil {
			return nil, malformed("response body is not valid base64: " + err.Error())
		}
		return &ResponseMessage{
			RequestID: w.RequestID,
			Status:    w.Status,
			Headers:   w.Headers,
			Body:      body,
		}, nil

	default:
		return nil, malformed(fmt.Sprintf("unknown kind %q", probe.Kind))
	}
}

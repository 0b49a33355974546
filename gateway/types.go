package gateway

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/c360/geogate/upstream/geo"
)

// Envelope types.
const (
	TypeResponse              = "response"
	TypeError                 = "error"
	TypeConnectionEstablished = "connection_established"
)

// Response wraps a dispatch result for a bidirectional caller.
type Response struct {
	Type        string          `json:"type"`
	RequestType string          `json:"request_type"`
	RequestID   json.RawMessage `json:"request_id,omitempty"`
	Data        geo.Result      `json:"data"`
	Timestamp   string          `json:"timestamp"`
}

// ErrorMessage reports a request that could not be dispatched.
type ErrorMessage struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Established is the first message on every bidirectional connection.
type Established struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewResponse builds a response envelope.
func NewResponse(action string, requestID json.RawMessage, data geo.Result, now time.Time) Response {
	return Response{
		Type:        TypeResponse,
		RequestType: action,
		RequestID:   requestID,
		Data:        data,
		Timestamp:   Timestamp(now),
	}
}

// NewError builds an error envelope.
func NewError(message string, requestID json.RawMessage, now time.Time) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message, RequestID: requestID, Timestamp: Timestamp(now)}
}

// NewEstablished builds the greeting for clientID.
func NewEstablished(clientID string, now time.Time) Established {
	return Established{
		Type:      TypeConnectionEstablished,
		ClientID:  clientID,
		Message:   "connected to GeoGate",
		Timestamp: Timestamp(now),
	}
}

// Timestamp formats t as RFC 3339 with milliseconds in UTC.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Encode marshals v without HTML escaping and without the trailing newline
// json.Encoder adds.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

package websocket

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/geogate/dispatch"
	"github.com/c360/geogate/errors"
)

// requestSchema accepts "action" as an alias for "type".
const requestSchema = `{
  "type": "object",
  "properties": {
    "type":       {"type": "string", "minLength": 1},
    "action":     {"type": "string", "minLength": 1},
    "params":     {"type": ["object", "null"]},
    "request_id": {"type": ["string", "number", "null"]}
  },
  "anyOf": [
    {"required": ["type"]},
    {"required": ["action"]}
  ]
}`

var requestValidator = mustSchema(requestSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile request schema: %v", err))
	}
	return schema
}

// Request is one inbound message.
type Request struct {
	Type      string          `json:"type"`
	Action    string          `json:"action"`
	Params    dispatch.Params `json:"params"`
	RequestID json.RawMessage `json:"request_id"`
}

// Name returns the action to dispatch.
func (r Request) Name() string {
	if r.Type != "" {
		return r.Type
	}
	return r.Action
}

// DecodeRequest validates data against the request schema and decodes it.
// On failure it still returns any request_id it could recover so the error
// envelope can be correlated.
func DecodeRequest(data []byte) (Request, error) {
	result, err := requestValidator.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Request{}, errors.WrapInvalid(fmt.Errorf("%w: not valid JSON", errors.ErrMalformedEnvelope),
			"websocket", "DecodeRequest", "parse message")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Request{RequestID: peekRequestID(data)}, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrMalformedEnvelope, strings.Join(msgs, "; ")),
			"websocket", "DecodeRequest", "validate message")
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err),
			"websocket", "DecodeRequest", "decode message")
	}
	if isNull(req.RequestID) {
		req.RequestID = nil
	}
	if req.Params == nil {
		req.Params = dispatch.Params{}
	}
	return req, nil
}

func peekRequestID(data []byte) json.RawMessage {
	var peek struct {
		RequestID json.RawMessage `json:"request_id"`
	}
	if json.Unmarshal(data, &peek) != nil || isNull(peek.RequestID) {
		return nil
	}
	return peek.RequestID
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

package gateway_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geogate/gateway"
	"github.com/c360/geogate/upstream/geo"
)

func TestEncode_RequestIDByteIdentical(t *testing.T) {
	ids := []string{`"req-1"`, `"a<b>&c"`, `"北京-42"`, `42`, `{"n":1}`}
	now := time.Date(2025, 1, 2, 3, 4, 5, 6e6, time.UTC)

	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			data, err := gateway.Encode(gateway.NewResponse("geocode", json.RawMessage(id), geo.Result{"status": "1"}, now))
			require.NoError(t, err)
			assert.Contains(t, string(data), `"request_id":`+id)
		})
	}
}

func TestEncode_OmitsMissingRequestID(t *testing.T) {
	data, err := gateway.Encode(gateway.NewError("invalid message format", nil, time.Now()))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "request_id")
	assert.NotContains(t, string(data), "\n")
}

func TestNewResponse_Shape(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 6e6, time.FixedZone("CST", 8*3600))
	data, err := gateway.Encode(gateway.NewResponse("weather", json.RawMessage(`"r1"`), geo.Result{"status": "0", "info": "x"}, now))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "response",
		"request_type": "weather",
		"request_id": "r1",
		"data": {"status": "0", "info": "x"},
		"timestamp": "2025-01-01T19:04:05.006Z"
	}`, string(data))
}

func TestNewEstablished(t *testing.T) {
	e := gateway.NewEstablished("client_1_1", time.Now())
	assert.Equal(t, gateway.TypeConnectionEstablished, e.Type)
	assert.Equal(t, "client_1_1", e.ClientID)
	assert.NotEmpty(t, e.Message)
}

package gateway

import (
	"context"

	"github.com/c360/geogate/dispatch"
	"github.com/c360/geogate/upstream/geo"
)

// Dispatcher runs an action. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, action string, params dispatch.Params) geo.Result
}

// ConnectionCounter reports live bidirectional connections.
// *registry.Registry implements it.
type ConnectionCounter interface {
	Len() int
}

// Transport names used in metrics and audit events.
const (
	TransportWebSocket = "websocket"
	TransportHTTP      = "http"
)

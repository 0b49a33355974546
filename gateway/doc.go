// Package gateway holds what the two GeoGate transports share: the
// Dispatcher they call and the JSON envelopes they write.
//
// # Transports
//
//	┌──────────────────┐         ┌──────────────────┐
//	│ WebSocket client │         │   HTTP client    │
//	└────────┬─────────┘         └────────┬─────────┘
//	         ↓ {type, params, request_id} ↓ GET|POST /api/v1/mcp/{action}
//	┌──────────────────┐         ┌──────────────────┐
//	│ gateway/websocket│         │   gateway/http   │
//	│ registry+sweeper │         │ status reads Len │
//	└────────┬─────────┘         └────────┬─────────┘
//	         └──────────┬─────────────────┘
//	                    ↓
//	          ┌───────────────────┐
//	          │ dispatch.Dispatcher│ → upstream/geo, upstream/llm
//	          └───────────────────┘
//
// The WebSocket transport wraps every result in a Response envelope carrying
// the caller's request_id. The HTTP transport returns the result object
// itself with status 200; callers read the body's "status" field.
//
// Envelopes are encoded with HTML escaping disabled so the echoed
// request_id stays byte-identical.
package gateway

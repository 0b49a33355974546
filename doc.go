// Package geogate is a gateway that exposes a geospatial web service to
// AI agents over two transports: a persistent WebSocket connection that
// carries request/response envelopes, and a stateless HTTP API for one-off
// calls. Both transports share a single dispatcher.
//
// # Architecture
//
//	┌──────────────────┐      ┌──────────────────┐
//	│ WebSocket server │      │   HTTP server    │  gateway/websocket
//	│  (ws/wss, :6789) │      │ (http/s, :5000)  │  gateway/http
//	└────────┬─────────┘      └────────┬─────────┘
//	         │ envelopes               │ /api/v1/mcp/{action}
//	         ↓                         ↓
//	┌─────────────────────────────────────────────┐
//	│                 Dispatcher                  │  dispatch
//	│ action → geo endpoint, route name resolution│
//	│        optional LLM enrichment              │
//	└────────┬────────────────────────┬───────────┘
//	         ↓                        ↓
//	┌──────────────────┐      ┌──────────────────┐
//	│  Geo provider    │      │ Completion API   │  upstream/geo
//	│  (rate limited)  │      │  (optional)      │  upstream/llm
//	└──────────────────┘      └──────────────────┘
//
// The connection registry (registry) tracks live WebSocket clients with
// their last activity. A sweeper evicts clients idle past the configured
// timeout. The HTTP status route reads the registry size and never
// modifies it.
//
// Lifecycle and audit events are optionally published to NATS (events,
// natsclient). A missing or unreachable NATS server leaves the gateway
// fully functional.
//
// # Packages
//
// Transports:
//   - gateway: shared envelope and dispatcher types
//   - gateway/websocket: persistent transport, idle eviction, connection ceiling
//   - gateway/http: stateless transport, status, health and metrics routes
//
// Domain:
//   - dispatch: action table, parameter normalization, route resolution
//   - upstream/geo: geospatial provider client
//   - upstream/llm: completion client used for enrichment
//   - registry: connection registry and idle sweeper
//   - events: lifecycle and request event publishing
//
// Infrastructure:
//   - config: layered JSON/JSONC/YAML configuration with env overrides
//   - component: start/stop ordering for long-lived parts
//   - health, metric, errors: health aggregation, Prometheus metrics, error classes
//   - natsclient: NATS connection management
//   - pkg/cache, pkg/retry, pkg/worker, pkg/tlsutil: shared utilities
//
// # Binary
//
//	geogate --config geogate.yaml
//	geogate --config base.json --config prod.yaml --log-level debug
//	geogate --config geogate.jsonc --validate
package geogate

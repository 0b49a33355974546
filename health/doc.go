// Package health defines Status, a point-in-time health report, and
// Monitor, which aggregates per-component checks for the HTTP /health
// endpoint.
//
// Components register a Check at startup:
//
//	monitor.Register("websocket", wsServer.Health)
//	status := monitor.Snapshot("geogate")
//
// SanitizeError is also used by the dispatch path so upstream failures
// never echo the provider key back to a caller.
package health

// Package websocket is the bidirectional GeoGate transport.
//
// Each accepted connection gets an id of the form client_<unixmillis>_<seq>
// and a connection_established message. After that the client sends
// request envelopes:
//
//	{"type": "geocode", "params": {"address": "..."}, "request_id": "r1"}
//
// "action" is accepted in place of "type". Every well-formed request gets
// exactly one response envelope echoing request_id; a malformed one gets an
// error envelope and the connection stays open. Requests are dispatched on
// a bounded worker pool, so responses may arrive out of request order.
//
// Connections are closed with a cause: client_closed, transport_error,
// idle_timeout, shutdown or message_too_large. Whoever removes a
// connection from the registry closes it, which keeps each close and its
// disconnect event single.
package websocket

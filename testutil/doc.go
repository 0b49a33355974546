// Package testutil holds in-memory fakes shared by GeoGate tests.
//
// FakeGeo scripts geospatial responses per endpoint and records every call
// so tests can assert call order (for example that a geocode lookup precedes
// a route query). FakeCompleter plays the completion service, answering or
// staying silent. MockNATSClient is an in-memory event sink that satisfies
// events.Sink without a NATS server.
//
// All fakes are safe for concurrent use. Integration tests that need real
// NATS use natsclient.NewTestClient instead.
package testutil

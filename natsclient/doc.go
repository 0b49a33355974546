// Package natsclient wraps a core NATS connection for GeoGate's optional
// event stream.
//
// The client tracks connection status, forwards health changes to a
// callback (used to drive the geogate_nats_connected gauge), and drains on
// Close. Only core publish/subscribe is used; events are fire-and-forget.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("geogate"),
//	    natsclient.WithHealthChangeCallback(metrics.RecordNATSStatus),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// NewTestClient starts a disposable NATS container through testcontainers
// for integration tests, which run only with INTEGRATION_TESTS=1.
package natsclient

// Package worker provides Pool, a generic bounded worker pool.
//
// The WebSocket server submits one job per inbound request so handlers run
// concurrently without one goroutine per message:
//
//	pool := worker.NewPool(16, 256, s.runJob,
//	    worker.WithMetrics[job](registry, "dispatch"))
//	if err := pool.Start(ctx); err != nil { ... }
//	if err := pool.Submit(j); errors.Is(err, worker.ErrQueueFull) {
//	    // reply "server busy"
//	}
//	defer pool.Stop(5 * time.Second)
//
// Submit never blocks. A panicking job is recovered, counted and logged;
// the worker keeps running.
package worker

package worker

import "errors"

var (
	// ErrPoolNotStarted is returned by Submit before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned by a second Start.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilHandler is the panic value for NewPool with a nil handler.
	ErrNilHandler = errors.New("worker pool handler cannot be nil")

	// ErrStopTimeout is returned when in-flight jobs outlive the Stop timeout.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)

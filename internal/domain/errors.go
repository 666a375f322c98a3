package domain

import "errors"

// Domain errors represent error conditions in the sensorship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("sensorship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("sensorship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("sensorship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("sensorship: invalid configuration")

	// ErrBrokerUnreachable is returned by a publish attempt made or pending
	// while the broker session is down.
	ErrBrokerUnreachable = errors.New("sensorship: broker unreachable")

	// ErrPublishTimeout is returned when the broker does not confirm a
	// publish within the configured timeout.
	ErrPublishTimeout = errors.New("sensorship: publish timeout")

	// ErrStoreClosed is returned by store requests made after the store
	// worker has exited.
	ErrStoreClosed = errors.New("sensorship: store closed")
)

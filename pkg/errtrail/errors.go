package errtrail

import "errors"

var (
	// ErrNotInitialized is returned when a data method is called on an
	// adapter before Initialize completed or after Destroy.
	ErrNotInitialized = errors.New("errtrail: adapter not initialized")

	// ErrAlreadyInitialized is returned when Initialize is called on an
	// adapter that is already initialized. Re-initializing is an error, not
	// a no-op.
	ErrAlreadyInitialized = errors.New("errtrail: adapter already initialized")

	// ErrAdapterNotFound is returned when no factory is registered under the
	// requested name.
	ErrAdapterNotFound = errors.New("errtrail: adapter not registered")

	// ErrNoActiveAdapter is returned when dispatch is attempted with no
	// active adapter selected.
	ErrNoActiveAdapter = errors.New("errtrail: no active adapter")

	// ErrClosed is returned by pipeline and queue methods after Close.
	ErrClosed = errors.New("errtrail: pipeline closed")

	// ErrQueueClosed is returned by queue methods after the queue shut down.
	ErrQueueClosed = errors.New("errtrail: offline queue closed")
)

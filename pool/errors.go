package pool

import "errors"

var (
	// ErrNotInitialized is returned when Acquire is called before Initialize.
	ErrNotInitialized = errors.New("pool is not initialized")

	// ErrInit is returned by Initialize when no connection could be opened.
	ErrInit = errors.New("pool initialization failed: no usable connections")

	// ErrAcquireTimeout is returned when no connection became available
	// within the acquire timeout.
	ErrAcquireTimeout = errors.New("connection acquire timed out")

	// ErrPoolClosed is returned to waiters still queued when the pool is
	// torn down.
	ErrPoolClosed = errors.New("pool is closed")
)

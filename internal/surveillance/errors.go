package surveillance

import "errors"

var (
	// ErrPoolExhausted is returned when every event slot is leased.
	ErrPoolExhausted = errors.New("event pool exhausted")
	// ErrLeaseReleased is returned when a lease is released more than once or
	// after its slot has been reused.
	ErrLeaseReleased = errors.New("event lease already released")
	// ErrQueueFull is returned when the ingestion channel has no room.
	ErrQueueFull = errors.New("ingestion channel full")
	// ErrNotRunning is returned by TrySubmit outside the Running state.
	ErrNotRunning = errors.New("surveillance engine not running")
	// ErrInvalidTrade wraps every trade validation failure.
	ErrInvalidTrade = errors.New("invalid trade")
	// ErrNotInitialized is returned by Start before Initialize succeeded.
	ErrNotInitialized = errors.New("surveillance engine not initialized")
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("surveillance engine already running")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("surveillance engine already initialized")
	// ErrInvalidConfig wraps configuration problems found by Initialize.
	ErrInvalidConfig = errors.New("invalid surveillance configuration")
)

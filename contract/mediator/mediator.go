package mediator

import "context"

// Lifecycle is shared by every mediator and emitter. Init must complete before Send or
// Emit are valid; Shutdown drains in-flight work and releases transport resources.
type Lifecycle interface {
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Mediator dispatches a request to the single service registered for a pattern and
// returns its response. Failures are reported in Response.Error, never as a Go error
// and never as a panic.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Mediator interface {
	Lifecycle
	Send(ctx context.Context, pattern string, message any) Response[any]
}

// SignalEmitter broadcasts an event to zero or more handlers without a reply leg.
// Emit returns once dispatch has been initiated; it never waits for handlers.
type SignalEmitter interface {
	Lifecycle
	Emit(ctx context.Context, pattern string, event any) error
}

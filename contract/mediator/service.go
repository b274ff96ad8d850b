package mediator

import "context"

// Service is the type-erased unit of business logic bound to one pattern.
// Run never panics and never returns handler failures as anything but a Response.
type Service interface {
	Pattern() string
	RequestType() string
	AllowsNullRequest() bool
	// DecodeRequest turns a wire payload into the request value expected by Run.
	// An empty or null payload decodes to nil.
	DecodeRequest(payload []byte) (any, error)
	Run(ctx context.Context, request any) Response[any]
}

// SignalHandler receives events emitted for its pattern.
type SignalHandler interface {
	Pattern() string
	DecodeEvent(payload []byte) (any, error)
	Handle(ctx context.Context, event any) error
}

// ServiceFactory resolves a pattern to its single service.
type ServiceFactory interface {
	Service(pattern string) (Service, bool)
}

// SignalHandlerFactory resolves a pattern to its handlers, in registration order.
// The result may be empty.
type SignalHandlerFactory interface {
	SignalHandlers(pattern string) []SignalHandler
}

package service

import "context"

// Handler is a strongly typed request/response handler.
// Implementations must be safe for concurrent use by multiple goroutines.
//
// Returning an error created with errors.Code produces an unsuccessful response with
// that code; any other error is reported as InvalidServiceExecution.
type Handler[Req, Res any] interface {
	Run(ctx context.Context, req Req) (Res, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[Req, Res any] func(ctx context.Context, req Req) (Res, error)

func (f HandlerFunc[Req, Res]) Run(ctx context.Context, req Req) (Res, error) { return f(ctx, req) }

// SignalHandler is a strongly typed event handler.
type SignalHandler[E any] interface {
	Handle(ctx context.Context, e E) error
}

// SignalHandlerFunc adapts a function to SignalHandler.
type SignalHandlerFunc[E any] func(ctx context.Context, e E) error

func (f SignalHandlerFunc[E]) Handle(ctx context.Context, e E) error { return f(ctx, e) }

// Patterned lets a handler name its own pattern. A non-empty value overrides the
// pattern derived from the handler's type.
type Patterned interface {
	Pattern() string
}

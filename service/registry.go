package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

// Registry maps patterns to services and signal handlers. A service pattern is bound
// at most once, so a pattern resolves to the same service for the registry's lifetime.
//
// Registry is concurrency-safe and contains no global state.
type Registry struct {
	mu sync.RWMutex

	services map[string]cmed.Service
	signals  map[string][]cmed.SignalHandler

	logger *slog.Logger
}

var (
	_ cmed.ServiceFactory       = (*Registry)(nil)
	_ cmed.SignalHandlerFactory = (*Registry)(nil)
)

// NewRegistry constructs an empty registry. A nil logger falls back to slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		services: make(map[string]cmed.Service),
		signals:  make(map[string][]cmed.SignalHandler),
		logger:   logger,
	}
}

// Add binds an already type-erased service. Duplicate patterns are rejected.
func (r *Registry) Add(svc cmed.Service) error {
	pattern := svc.Pattern()
	if pattern == "" {
		return fmt.Errorf("register service %T: %w", svc, merr.ErrInvalidPattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[pattern]; exists {
		return fmt.Errorf("register service %s: %w", pattern, merr.ErrHandlerExists)
	}

	r.services[pattern] = svc

	return nil
}

// AddSignalHandler appends a type-erased signal handler. Multiple handlers per pattern are allowed.
func (r *Registry) AddSignalHandler(h cmed.SignalHandler) error {
	pattern := h.Pattern()
	if pattern == "" {
		return fmt.Errorf("register signal handler %T: %w", h, merr.ErrInvalidPattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.signals[pattern] = append(r.signals[pattern], h)

	return nil
}

// Service resolves the service bound to pattern.
func (r *Registry) Service(pattern string) (cmed.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[pattern]

	return svc, ok
}

// SignalHandlers returns a copy of the handlers bound to pattern, in registration order.
func (r *Registry) SignalHandlers(pattern string) []cmed.SignalHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]cmed.SignalHandler(nil), r.signals[pattern]...)
}

// Patterns lists the service patterns in lexical order.
func (r *Registry) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.services))
	for p := range r.services {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

// Register binds a typed handler. The pattern comes from the handler's Pattern method,
// then WithPattern, then the handler's type name.
func Register[Req, Res any](r *Registry, h Handler[Req, Res], opts ...Option) error {
	o := buildOptions(opts)

	return r.Add(newTypedService(resolvePattern(h, o), h, o, r.logger))
}

// RegisterFunc binds a handler function under an explicit pattern.
func RegisterFunc[Req, Res any](
	r *Registry,
	pattern string,
	fn func(ctx context.Context, req Req) (Res, error),
	opts ...Option,
) error {
	if pattern == "" {
		return fmt.Errorf("register func: %w", merr.ErrInvalidPattern)
	}

	return Register[Req, Res](r, HandlerFunc[Req, Res](fn), append(opts, WithPattern(pattern))...)
}

// MustRegister is Register for startup tables; it panics on error.
func MustRegister[Req, Res any](r *Registry, h Handler[Req, Res], opts ...Option) {
	if err := Register(r, h, opts...); err != nil {
		panic(err)
	}
}

// Subscribe binds a typed signal handler.
func Subscribe[E any](r *Registry, h SignalHandler[E], opts ...Option) error {
	o := buildOptions(opts)

	return r.AddSignalHandler(&typedSignal[E]{pattern: resolvePattern(h, o), handler: h})
}

// SubscribeFunc binds a signal handler function under an explicit pattern.
func SubscribeFunc[E any](r *Registry, pattern string, fn func(ctx context.Context, e E) error) error {
	if pattern == "" {
		return fmt.Errorf("subscribe func: %w", merr.ErrInvalidPattern)
	}

	return Subscribe[E](r, SignalHandlerFunc[E](fn), WithPattern(pattern))
}

func resolvePattern(h any, o options) string {
	if p, ok := h.(Patterned); ok && p.Pattern() != "" {
		return p.Pattern()
	}

	if o.pattern != "" {
		return o.pattern
	}

	return DerivePattern(h)
}

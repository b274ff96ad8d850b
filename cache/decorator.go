package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/jsoncodec"
)

// DefaultTTL suppresses bursts of duplicate calls; it is not meant for long-lived caching.
const DefaultTTL = time.Second

// Option configures a Mediator.
type Option func(*Mediator)

// WithTTL sets how long a successful response is served from the store.
func WithTTL(d time.Duration) Option {
	return func(m *Mediator) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithKind overrides the mediator kind that prefixes every key. Mediators sharing a
// store and a kind share cached responses.
func WithKind(kind string) Option {
	return func(m *Mediator) {
		if kind != "" {
			m.kind = kind
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mediator) {
		if l != nil {
			m.logger = l
		}
	}
}

// Mediator memoizes successful responses of the wrapped mediator for a short TTL.
// A hit is served without dispatching and does not extend the entry's lifetime.
// Concurrent identical calls that miss share one dispatch.
//
// Successful payloads always come back as json.RawMessage (or nil for a null
// payload), on a miss as well as on a hit, so the payload type never depends on
// the cache state. Use mediator.Send[T] to decode them.
type Mediator struct {
	inner  cmed.Mediator
	store  Store
	ttl    time.Duration
	kind   string
	logger *slog.Logger
	flight singleflight.Group
}

var _ cmed.Mediator = (*Mediator)(nil)

// New wraps inner with a cache backed by store.
func New(inner cmed.Mediator, store Store, opts ...Option) *Mediator {
	m := &Mediator{
		inner:  inner,
		store:  store,
		ttl:    DefaultTTL,
		kind:   fmt.Sprintf("%T", inner),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Mediator) Init(ctx context.Context) error { return m.inner.Init(ctx) }

func (m *Mediator) Shutdown(ctx context.Context) error { return m.inner.Shutdown(ctx) }

// Send serves pattern from the cache when possible and delegates otherwise. Store
// failures are logged and never fail the call. Callers joining a dispatch already
// in flight share its response, including a cancellation of the first caller.
func (m *Mediator) Send(ctx context.Context, pattern string, message any) cmed.Response[any] {
	if pattern == "" {
		return m.inner.Send(ctx, pattern, message)
	}

	key, err := Key(m.kind, pattern, message)
	if err != nil {
		m.logger.WarnContext(ctx, "cache key", "pattern", pattern, "err", err)
		return m.inner.Send(ctx, pattern, message)
	}

	value, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.WarnContext(ctx, "cache read", "pattern", pattern, "err", err)
	}

	if ok {
		return cached(value)
	}

	v, _, _ := m.flight.Do(key, func() (any, error) { //nolint:errcheck // the func never fails
		return m.dispatch(ctx, key, pattern, message), nil
	})

	return v.(cmed.Response[any]) //nolint:forcetypeassert // only dispatch results are stored
}

// dispatch delegates a miss and stores a successful response.
func (m *Mediator) dispatch(ctx context.Context, key, pattern string, message any) cmed.Response[any] {
	resp := m.inner.Send(ctx, pattern, message)
	if !resp.IsSuccess() {
		return resp
	}

	value, err := encode(resp.Payload)
	if err != nil {
		m.logger.WarnContext(ctx, "cache encode", "pattern", pattern, "err", err)
		return resp
	}

	if err := m.store.Set(ctx, key, value, m.ttl); err != nil {
		m.logger.WarnContext(ctx, "cache write", "pattern", pattern, "err", err)
	}

	return cached(value)
}

func cached(value []byte) cmed.Response[any] {
	if jsoncodec.IsNull(value) {
		return cmed.Success[any](nil)
	}

	return cmed.Success[any](json.RawMessage(value))
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		return p, nil
	default:
		return jsoncodec.Marshal(p)
	}
}

// Invalidate drops the cached response for pattern and message, if any.
func (m *Mediator) Invalidate(ctx context.Context, pattern string, message any) error {
	key, err := Key(m.kind, pattern, message)
	if err != nil {
		return err
	}

	return m.store.Delete(ctx, key)
}

// Key derives the cache key of a call: the mediator kind, the pattern and a 64-bit
// xxhash of the message's JSON encoding.
func Key(kind, pattern string, message any) (string, error) {
	body, err := jsoncodec.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("cache key %s: %w", pattern, err)
	}

	return fmt.Sprintf("%s:%s:%016x", kind, pattern, xxhash.Sum64(body)), nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/jsoncodec"
)

// typedService is the type-erased adapter every dispatcher calls.
type typedService[Req, Res any] struct {
	pattern     string
	requestType string
	allowNull   bool
	handler     Handler[Req, Res]
	logger      *slog.Logger
}

var _ cmed.Service = (*typedService[int, int])(nil)

func newTypedService[Req, Res any](
	pattern string,
	h Handler[Req, Res],
	o options,
	logger *slog.Logger,
) *typedService[Req, Res] {
	return &typedService[Req, Res]{
		pattern:     pattern,
		requestType: reflect.TypeFor[Req]().String(),
		allowNull:   o.allowNull,
		handler:     h,
		logger:      logger,
	}
}

func (s *typedService[Req, Res]) Pattern() string         { return s.pattern }
func (s *typedService[Req, Res]) RequestType() string     { return s.requestType }
func (s *typedService[Req, Res]) AllowsNullRequest() bool { return s.allowNull }

func (s *typedService[Req, Res]) DecodeRequest(payload []byte) (any, error) {
	if jsoncodec.IsNull(payload) {
		return nil, nil
	}

	var req Req
	if err := jsoncodec.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode %s request: %w", s.pattern, err)
	}

	return req, nil
}

func (s *typedService[Req, Res]) Run(ctx context.Context, request any) (resp cmed.Response[any]) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "service panicked", "pattern", s.pattern, "panic", fmt.Sprint(r))
			resp = cmed.Failure[any](merr.InvalidServiceExecution)
		}
	}()

	req, code := convert[Req](request, s.allowNull)
	if code != "" {
		return cmed.Failure[any](code)
	}

	res, err := s.handler.Run(ctx, req)
	if err != nil {
		if code, ok := merr.CodeOf(err); ok {
			return cmed.Failure[any](code)
		}

		s.logger.ErrorContext(ctx, "service failed", "pattern", s.pattern, "err", err)

		return cmed.Failure[any](merr.InvalidServiceExecution)
	}

	return cmed.Success[any](res)
}

// typedSignal adapts a typed event handler.
type typedSignal[E any] struct {
	pattern string
	handler SignalHandler[E]
}

var _ cmed.SignalHandler = (*typedSignal[int])(nil)

func (s *typedSignal[E]) Pattern() string { return s.pattern }

func (s *typedSignal[E]) DecodeEvent(payload []byte) (any, error) {
	if jsoncodec.IsNull(payload) {
		return nil, nil
	}

	var e E
	if err := jsoncodec.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", s.pattern, err)
	}

	return e, nil
}

func (s *typedSignal[E]) Handle(ctx context.Context, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal handler %s panicked: %v: %w", s.pattern, r, merr.Code(merr.InvalidServiceExecution))
		}
	}()

	e, code := convert[E](event, true)
	if code != "" {
		return fmt.Errorf("signal handler %s: %w", s.pattern, merr.Code(code))
	}

	return s.handler.Handle(ctx, e)
}

// convert turns an opaque value into T. Values of another type are re-encoded through
// JSON so that in-process callers see the same leniency as broker callers.
func convert[T any](v any, allowNull bool) (T, string) {
	var zero T

	if v == nil {
		if allowNull {
			return zero, ""
		}

		return zero, merr.NullRequest
	}

	if t, ok := v.(T); ok {
		return t, ""
	}

	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := jsoncodec.Marshal(v)
		if err != nil {
			return zero, merr.InvalidRequestType
		}

		raw = b
	}

	if jsoncodec.IsNull(raw) {
		if allowNull {
			return zero, ""
		}

		return zero, merr.NullRequest
	}

	var out T
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return zero, merr.InvalidRequestType
	}

	return out, ""
}

package mediator

import (
	"context"
	"encoding/json"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/jsoncodec"
)

// Send is a typed helper over any Mediator. Payloads that crossed a broker arrive as raw
// JSON and are decoded into T; a payload that does not fit T yields SerializationError.
func Send[T any](ctx context.Context, m cmed.Mediator, pattern string, message any) cmed.Response[T] {
	r := m.Send(ctx, pattern, message)
	if !r.IsSuccess() {
		return cmed.Failure[T](r.Error)
	}

	v, err := payloadAs[T](r.Payload)
	if err != nil {
		return cmed.Failure[T](merr.SerializationError)
	}

	return cmed.Success(v)
}

func payloadAs[T any](v any) (T, error) {
	var out T

	if v == nil {
		return out, nil
	}

	if t, ok := v.(T); ok {
		return t, nil
	}

	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := jsoncodec.Marshal(v)
		if err != nil {
			return out, err
		}

		raw = b
	}

	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return out, err
	}

	return out, nil
}

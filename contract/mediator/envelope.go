package mediator

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	"github.com/next-trace/scg-mediator/internal/jsoncodec"
)

// Envelope is the wire shape shared by requests and events. Correlation metadata is
// never part of the body; transports carry it as native message properties.
type Envelope struct {
	Pattern     string          `json:"Pattern"`
	Payload     json.RawMessage `json:"Payload"`
	RequestType string          `json:"RequestType"`
}

// ReplyEnvelope is the wire shape of a reply. An absent or null Error signals success.
type ReplyEnvelope struct {
	Payload json.RawMessage `json:"Payload"`
	Error   string          `json:"Error,omitempty"`
}

// NewEnvelope serializes message into an envelope for pattern.
func NewEnvelope(pattern string, message any) (Envelope, error) {
	payload, err := jsoncodec.Marshal(message)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %s: %w", pattern, err)
	}

	return Envelope{Pattern: pattern, Payload: payload, RequestType: TypeName(message)}, nil
}

// EncodeEnvelope renders an envelope body.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Payload == nil {
		env.Payload = json.RawMessage("null")
	}

	return jsoncodec.Marshal(env)
}

// DecodeEnvelope parses an envelope body. A body without a pattern is rejected.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := jsoncodec.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}

	if env.Pattern == "" {
		return Envelope{}, merr.ErrInvalidPattern
	}

	return env, nil
}

// EncodeReply renders a response as a reply body. The payload is serialized unless
// the response is unsuccessful.
func EncodeReply(r Response[any]) ([]byte, error) {
	out := ReplyEnvelope{Error: r.Error, Payload: json.RawMessage("null")}

	if r.IsSuccess() {
		payload, err := marshalPayload(r.Payload)
		if err != nil {
			return nil, err
		}

		out.Payload = payload
	}

	return jsoncodec.Marshal(out)
}

// DecodeReply parses a reply body. Error may be a code name, a numeric ordinal
// or null. The payload is returned undecoded.
func DecodeReply(body []byte) (Response[any], error) {
	var wire struct {
		Payload json.RawMessage `json:"Payload"`
		Error   json.RawMessage `json:"Error"`
	}

	if err := jsoncodec.Unmarshal(body, &wire); err != nil {
		return Response[any]{}, err
	}

	code, err := decodeCode(wire.Error)
	if err != nil {
		return Response[any]{}, err
	}

	if code != "" {
		return Failure[any](code), nil
	}

	if jsoncodec.IsNull(wire.Payload) {
		return Success[any](nil), nil
	}

	return Success[any](wire.Payload), nil
}

func decodeCode(raw json.RawMessage) (string, error) {
	if jsoncodec.IsNull(raw) {
		return "", nil
	}

	var s string
	if err := jsoncodec.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return "", fmt.Errorf("reply error code %s: %w", raw, merr.ErrSerializationFailed)
	}

	return merr.FromOrdinal(n), nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	default:
		return jsoncodec.Marshal(v)
	}
}

// TypeName returns a type hint for v suitable for the RequestType field.
func TypeName(v any) string {
	if v == nil {
		return ""
	}

	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.PkgPath() == "" {
		return t.String()
	}

	return t.PkgPath() + "." + t.Name()
}

package errors

import stderrors "errors"

// Response codes carried in the Error field of a reply. Keep stable; every transport
// and every mediator reports failures with exactly these strings.
const (
	Unknown                 = "Unknown"
	ServiceNotFound         = "ServiceNotFound"
	InvalidPattern          = "InvalidPattern"
	InvalidServiceExecution = "InvalidServiceExecution"
	Timeout                 = "Timeout"
	InvalidRequestType      = "InvalidRequestType"
	NullRequest             = "NullRequest"
	NullResponse            = "NullResponse"
	SerializationError      = "SerializationError"

	// Canceled is reported when the caller's context is canceled before a reply arrives.
	Canceled = "Canceled"
	// Unavailable is reported when a mediator is used outside its Init/Shutdown window.
	Unavailable = "Unavailable"
)

// codes lists the response codes in their wire ordinal order. Legacy senders
// transmit the ordinal instead of the name.
var codes = []string{
	Unknown,
	ServiceNotFound,
	InvalidPattern,
	InvalidServiceExecution,
	Timeout,
	InvalidRequestType,
	NullRequest,
	NullResponse,
	SerializationError,
	Canceled,
	Unavailable,
}

// FromOrdinal maps a numeric wire code to its name. Out of range values map to Unknown.
func FromOrdinal(n int) string {
	if n < 0 || n >= len(codes) {
		return Unknown
	}

	return codes[n]
}

// Error codes for the library contracts. Keep stable; used across adapters and mediators.
const (
	ErrCodeHandlerExists       = "mediator.handler_exists"
	ErrCodeInvalidPattern      = "mediator.invalid_pattern"
	ErrCodeNotRunning          = "mediator.not_running"
	ErrCodeConnectFailed       = "mediator.connect_failed"
	ErrCodeNotConnected        = "mediator.not_connected"
	ErrCodePublishFailed       = "mediator.publish_failed"
	ErrCodeSubscribeFailed     = "mediator.subscribe_failed"
	ErrCodeSerializationFailed = "mediator.serialization_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

// CodeOf reports the code carried by err or by any error it wraps.
func CodeOf(err error) (string, bool) {
	var ce codedError
	if stderrors.As(err, &ce) {
		return string(ce), true
	}

	return "", false
}

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrInvalidPattern      = Code(ErrCodeInvalidPattern)
	ErrNotRunning          = Code(ErrCodeNotRunning)
	ErrConnectFailed       = Code(ErrCodeConnectFailed)
	ErrNotConnected        = Code(ErrCodeNotConnected)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSubscribeFailed     = Code(ErrCodeSubscribeFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
)

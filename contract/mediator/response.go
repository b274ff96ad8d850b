package mediator

// Response is the outcome of a Send. Error is empty on success and holds one of the
// stable codes from contract/errors otherwise; Payload is meaningless when Error is set.
type Response[T any] struct {
	Payload T
	Error   string
}

// IsSuccess reports whether the response carries no error code.
func (r Response[T]) IsSuccess() bool { return r.Error == "" }

// Success wraps a payload in a successful response.
func Success[T any](payload T) Response[T] { return Response[T]{Payload: payload} }

// Failure builds an unsuccessful response with the given code.
func Failure[T any](code string) Response[T] { return Response[T]{Error: code} }

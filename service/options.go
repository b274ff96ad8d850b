package service

// Option configures a registration.
type Option func(*options)

type options struct {
	pattern   string
	allowNull bool
}

// WithPattern sets the pattern explicitly. A handler that implements Patterned with a
// non-empty value still takes precedence.
func WithPattern(pattern string) Option {
	return func(o *options) { o.pattern = pattern }
}

// AllowNullRequest lets the handler receive the zero request value when the caller
// sends nil. By default a nil request is answered with NullRequest.
func AllowNullRequest() Option {
	return func(o *options) { o.allowNull = true }
}

func buildOptions(opts []Option) options {
	var o options
	for _, f := range opts {
		f(&o)
	}

	return o
}

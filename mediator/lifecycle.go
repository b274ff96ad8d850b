package mediator

import (
	"context"
	"errors"

	merr "github.com/next-trace/scg-mediator/contract/errors"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// codeFor maps a context error to a response code. Deadlines read as timeouts.
func codeFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return merr.Timeout
	}

	return merr.Canceled
}

package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/next-trace/scg-mediator/service"
)

// Built-in services answered by `mediatorctl serve`.
const (
	PatternPing     = "mediator.ping"
	PatternEcho     = "mediator.echo"
	PatternPatterns = "mediator.patterns"
)

type Pong struct {
	Host string    `json:"host"`
	Time time.Time `json:"time"`
}

// diagnostics registers the built-in services and a logging handler per listened
// signal pattern.
func diagnostics(logger *slog.Logger, listen []string) (*service.Registry, error) {
	r := service.NewRegistry(logger)

	host, _ := os.Hostname() //nolint:errcheck // informational only

	err := service.RegisterFunc(r, PatternPing, func(context.Context, json.RawMessage) (Pong, error) {
		return Pong{Host: host, Time: time.Now().UTC()}, nil
	}, service.AllowNullRequest())
	if err != nil {
		return nil, err
	}

	err = service.RegisterFunc(r, PatternEcho, func(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
		return in, nil
	}, service.AllowNullRequest())
	if err != nil {
		return nil, err
	}

	err = service.RegisterFunc(r, PatternPatterns, func(context.Context, json.RawMessage) ([]string, error) {
		return r.Patterns(), nil
	}, service.AllowNullRequest())
	if err != nil {
		return nil, err
	}

	for _, pattern := range listen {
		err := service.SubscribeFunc(r, pattern, func(ctx context.Context, e json.RawMessage) error {
			logger.InfoContext(ctx, "signal received", "pattern", pattern, "event", string(e))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

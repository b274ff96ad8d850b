package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/mediator"
)

// ErrResponse reports an unsuccessful response; the code is printed before it.
var ErrResponse = errors.New("request failed")

// NewSendCommand creates the send command.
func NewSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <pattern> [json]",
		Short: "Send a request and print the response",
		Long: `Send publishes one request and waits for its reply. The optional argument is the
JSON message; without it the message is null. With the inmemory transport the
request is answered in-process by the built-in services.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}

			message, err := parseMessage(args[1:])
			if err != nil {
				return err
			}

			resp, err := rt.send(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !resp.IsSuccess() {
				return fmt.Errorf("%w: %s", ErrResponse, resp.Error)
			}

			return nil
		},
	}

	return cmd
}

func (rt *runtime) send(ctx context.Context, pattern string, message any) (cmed.Response[any], error) {
	t, err := NewTransport(rt.cfg, rt.broker)
	if err != nil {
		return cmed.Response[any]{}, err
	}

	var extra []mediator.Option

	if rt.cfg.Transport.Kind == "inmemory" {
		r, err := diagnostics(rt.logger, nil)
		if err != nil {
			return cmed.Response[any]{}, err
		}

		extra = append(extra, mediator.WithServices(r))
	}

	m, release, err := rt.withCache(mediator.NewBroker(t, rt.mediatorOptions(extra...)...))
	if err != nil {
		return cmed.Response[any]{}, err
	}
	defer release()

	if err := m.Init(ctx); err != nil {
		return cmed.Response[any]{}, fmt.Errorf("start mediator: %w", err)
	}
	defer func() { _ = m.Shutdown(context.WithoutCancel(ctx)) }()

	return m.Send(ctx, pattern, message), nil
}

// parseMessage returns nil without arguments and the raw JSON otherwise.
func parseMessage(args []string) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}

	if !json.Valid([]byte(args[0])) {
		return nil, fmt.Errorf("message is not valid JSON: %s", args[0])
	}

	return json.RawMessage(args[0]), nil
}

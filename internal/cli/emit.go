package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	sig "github.com/next-trace/scg-mediator/signal"
)

// NewEmitCommand creates the emit command.
func NewEmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit <pattern> [json]",
		Short: "Emit a signal",
		Long:  `Emit publishes one event to the signal channel and returns without waiting for handlers.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}

			event, err := parseMessage(args[1:])
			if err != nil {
				return err
			}

			if err := rt.emit(cmd.Context(), args[0], event); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "emitted %s\n", args[0])

			return nil
		},
	}

	return cmd
}

func (rt *runtime) emit(ctx context.Context, pattern string, event any) error {
	t, err := NewTransport(rt.cfg, rt.broker)
	if err != nil {
		return err
	}

	e := sig.NewBroker(t, rt.signalOptions()...)
	if err := e.Init(ctx); err != nil {
		return fmt.Errorf("start emitter: %w", err)
	}
	defer func() { _ = e.Shutdown(context.WithoutCancel(ctx)) }()

	return e.Emit(ctx, pattern, event)
}

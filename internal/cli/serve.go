package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-mediator/mediator"
	sig "github.com/next-trace/scg-mediator/signal"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var listen []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer the built-in diagnostic services until interrupted",
		Long: `Serve consumes the request channel and answers mediator.ping, mediator.echo and
mediator.patterns. Every --listen pattern logs the signals it receives.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return rt.serve(ctx, listen)
		},
	}

	cmd.Flags().StringSliceVarP(&listen, "listen", "l", nil, "Signal patterns to log")

	return cmd
}

func (rt *runtime) serve(ctx context.Context, listen []string) error {
	r, err := diagnostics(rt.logger, listen)
	if err != nil {
		return err
	}

	var metrics *mediator.Metrics

	if rt.cfg.Metrics.Enabled {
		metrics, err = mediator.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		srv := rt.metricsServer()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx) //nolint:errcheck // exiting anyway
		}()
	}

	mt, err := NewTransport(rt.cfg, rt.broker)
	if err != nil {
		return err
	}

	m := mediator.NewBroker(mt, rt.mediatorOptions(mediator.WithServices(r), mediator.WithMetrics(metrics))...)
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("start mediator: %w", err)
	}

	st, err := NewTransport(rt.cfg, rt.broker)
	if err != nil {
		return errors.Join(err, m.Shutdown(context.WithoutCancel(ctx)))
	}

	emitter := sig.NewBroker(st, rt.signalOptions(sig.WithHandlers(r))...)
	if err := emitter.Init(ctx); err != nil {
		return errors.Join(fmt.Errorf("start emitter: %w", err), m.Shutdown(context.WithoutCancel(ctx)))
	}

	rt.logger.Info("serving",
		"transport", mt.Name(),
		"request_channel", rt.cfg.Mediator.RequestChannel,
		"signal_channel", rt.cfg.Signal.Channel,
		"patterns", r.Patterns(),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	rt.logger.Info("shutting down")

	return errors.Join(emitter.Shutdown(shutdownCtx), m.Shutdown(shutdownCtx))
}

func (rt *runtime) metricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: rt.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server", "err", err)
		}
	}()

	return srv
}

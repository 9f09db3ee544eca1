package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/spf13/cobra"
)

func (a *App) newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the content API",
		Long: `Start the HTTP API. Every mutating request runs in its own unit of work and
its events are dispatched to the configured consumers before the response.`,
		Example: `  repoevents serve
  repoevents serve --addr :9090 --config deploy/repoevents.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

func (a *App) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, a.cfg)
	if err != nil {
		return err
	}
	log := rt.tel.Logger().With(observability.F("component", "http_server"))

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           rt.handler().Router(),
		ReadHeaderTimeout: a.cfg.HTTP.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			log.Error("http_server_error", observability.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error("http_server_shutdown_error", observability.Err(shutdownErr))
	} else {
		log.Info("http_server_stopped")
	}
	if closeErr := rt.Close(shutdownCtx); closeErr != nil {
		log.Error("runtime_close_error", observability.Err(closeErr))
		err = errors.Join(err, closeErr)
	}
	return err
}

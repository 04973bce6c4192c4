package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/nudge/internal/server"
	ws "github.com/dukerupert/nudge/internal/websocket"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the notification scheduler",
		Long: `Run the HTTP API, the live update websocket and, unless disabled, the
in-process notification scheduler that ticks every scheduler.interval.

Disable the scheduler when ticks are driven externally with "nudge tick".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the in-process scheduler")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, noScheduler bool) error {
	a, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(a.logger.With("component", "websocket"))
	srv := server.New(a.db, hub, a.pushStore, a.dispatcher, server.Options{
		WSOrigins:      a.cfg.WSOrigins,
		VAPIDPublicKey: a.cfg.Push.VAPIDPublicKey,
		RateLimit:      a.cfg.RateLimit,
		RateBurst:      a.cfg.RateBurst,
	}, a.logger)

	if !noScheduler {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		defer a.scheduler.Stop()
	}

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup(time.Hour)
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("nudge listening", "addr", httpServer.Addr, "scheduler", !noScheduler)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err, ok := <-errCh; ok && err != nil {
		return err
	}
	return nil
}

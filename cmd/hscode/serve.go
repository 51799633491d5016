package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/hscode-copilot/internal/api"
	"github.com/Veraticus/hscode-copilot/internal/common"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classification and verification HTTP API",
		Long: `Start the HTTP API used by the web client.

Classification sessions live in the configured session store; finalized products
and verification calls are kept alongside them (or in SQLite when sessions are in Redis).
Prometheus metrics are exposed on /metrics.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := api.NewServer(api.Deps{
		Engine:         a.engine,
		Verifier:       a.verifier,
		Source:         a.source,
		Products:       a.stores.products,
		Metrics:        a.metrics,
		Logger:         a.logger,
		StoreKind:      a.stores.kind,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		common.LogInfo(a.logger, "HTTP API listening", common.Fields{
			"addr":   cfg.Server.Addr,
			"store":  a.stores.kind,
			"caller": cfg.Verification.Caller,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		a.logger.Info("Shutting down HTTP API")
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return sweepIdle(gctx, a.stores.sweeper, cfg.Session.IdleTimeout, cfg.Session.CleanupInterval)
	})

	return g.Wait()
}

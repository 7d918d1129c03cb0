package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/antigravity-quota-hub/internal/config"
	"github.com/j-veylop/antigravity-quota-hub/internal/history"
	"github.com/j-veylop/antigravity-quota-hub/internal/httpapi"
	"github.com/j-veylop/antigravity-quota-hub/internal/hub"
	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
	"github.com/j-veylop/antigravity-quota-hub/internal/metrics"
	"github.com/j-veylop/antigravity-quota-hub/internal/version"
)

func newServeCmd() *cobra.Command {
	var listenAddr string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the quota hub server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}

			logger.Setup(cfg.LogLevel)
			metrics.Register()

			var db *history.DB
			if !noHistory {
				db, err = history.New(cfg.DatabasePath)
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()
			}

			h, err := hub.New(cfg, db)
			if err != nil {
				return err
			}
			if err := h.Start(); err != nil {
				return err
			}
			defer func() { _ = h.Close() }()

			srv := httpapi.NewServer(cfg.ListenAddr, h)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				logger.Info("http server listening",
					"addr", cfg.ListenAddr, "version", version.Version)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides LISTEN_ADDR)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "disable quota history persistence")

	return cmd
}
